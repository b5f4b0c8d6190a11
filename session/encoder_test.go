package session

import (
	"testing"
)

func sampleSession() *Session {
	s := &Session{
		SessionID:      "sid-1",
		AccountID:      "acct-1",
		Role:           "admin",
		RiskScore:      42,
		MFAVerified:    true,
		Generation:     7,
		CreatedAt:      1_700_000_000,
		LastActivityAt: 1_700_000_100,
		ExpiresAt:      1_700_043_200,
	}
	for i := range s.Fingerprint {
		s.Fingerprint[i] = byte(i)
	}
	for i := range s.RefreshHash {
		s.RefreshHash[i] = byte(255 - i)
	}
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleSession()

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	out.SessionID = in.SessionID

	if *out != *in {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestDecodeRevokedFlag(t *testing.T) {
	in := sampleSession()
	in.Revoked = true

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !out.Revoked || !out.MFAVerified {
		t.Fatalf("expected both flags set, got %+v", out)
	}
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	in := sampleSession()
	in.AccountID = string(make([]byte, 256))
	if _, err := Encode(in); err == nil {
		t.Fatal("expected error for oversized account id")
	}

	in = sampleSession()
	in.Role = string(make([]byte, 256))
	if _, err := Encode(in); err == nil {
		t.Fatal("expected error for oversized role")
	}

	in = sampleSession()
	in.AccountID = ""
	if _, err := Encode(in); err == nil {
		t.Fatal("expected error for empty account id")
	}
}

func TestDecodeRejectsCorruptBlobs(t *testing.T) {
	valid, err := Encode(sampleSession())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	cases := map[string][]byte{
		"empty":         {},
		"truncated":     valid[:40],
		"wrong version": append([]byte{9}, valid[1:]...),
		"cut account":   valid[:fixedHeaderSize+2],
	}

	for name, blob := range cases {
		if _, err := Decode(blob); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
}

func TestDecodeEmptyRole(t *testing.T) {
	in := sampleSession()
	in.Role = ""

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Role != "" {
		t.Fatalf("expected empty role, got %q", out.Role)
	}
}
