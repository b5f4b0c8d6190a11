package internal

import (
	"testing"
)

func TestSessionIDRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}

	parsed, err := ParseSessionID(sid.String())
	if err != nil {
		t.Fatalf("ParseSessionID failed: %v", err)
	}
	if parsed != sid {
		t.Fatal("session id round trip mismatch")
	}
}

func TestParseSessionIDRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "!!!", "dG9vc2hvcnQ"} {
		if _, err := ParseSessionID(in); err == nil {
			t.Fatalf("expected parse failure for %q", in)
		}
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}

	token, err := EncodeRefreshToken(sid.String(), 7, secret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken failed: %v", err)
	}

	gotSID, gotGen, gotSecret, err := DecodeRefreshToken(token)
	if err != nil {
		t.Fatalf("DecodeRefreshToken failed: %v", err)
	}
	if gotSID != sid.String() {
		t.Fatalf("session id mismatch: %q != %q", gotSID, sid.String())
	}
	if gotGen != 7 {
		t.Fatalf("generation mismatch: %d", gotGen)
	}
	if gotSecret != secret {
		t.Fatal("secret mismatch")
	}
}

func TestDecodeRefreshTokenRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "not base64 !!!", "c2hvcnQ"} {
		if _, _, _, err := DecodeRefreshToken(in); err == nil {
			t.Fatalf("expected decode failure for %q", in)
		}
	}
}

func TestHashRefreshSecretIsDeterministic(t *testing.T) {
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	if HashRefreshSecret(secret) != HashRefreshSecret(secret) {
		t.Fatal("expected deterministic hash")
	}

	other, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	if HashRefreshSecret(secret) == HashRefreshSecret(other) {
		t.Fatal("expected distinct hashes for distinct secrets")
	}
}

func TestNewChallengeIDIsUnique(t *testing.T) {
	a, err := NewChallengeID()
	if err != nil {
		t.Fatalf("NewChallengeID failed: %v", err)
	}
	b, err := NewChallengeID()
	if err != nil {
		t.Fatalf("NewChallengeID failed: %v", err)
	}
	if a == "" || a == b {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a, b)
	}
}
