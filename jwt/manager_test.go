package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func edKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}
	return pub, priv
}

func edConfig(t *testing.T) Config {
	t.Helper()
	pub, priv := edKeyPair(t)
	return Config{
		AccessTTL:     10 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "riskgate",
	}
}

func sampleInput() AccessInput {
	return AccessInput{
		AccountID:      "acct-1",
		SessionID:      "sid-1",
		Role:           "admin",
		FingerprintRef: "a1b2c3d4e5f6",
		RiskScore:      37,
		MFAVerified:    true,
	}
}

func TestCreateAndParseEd25519(t *testing.T) {
	mgr, err := NewManager(edConfig(t))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := mgr.CreateAccess(sampleInput())
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	claims, err := mgr.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.AID != "acct-1" || claims.SID != "sid-1" || claims.Role != "admin" {
		t.Fatalf("unexpected identity claims: %+v", claims)
	}
	if claims.FingerprintRef != "a1b2c3d4e5f6" || claims.RiskScore != 37 || !claims.MFAVerified {
		t.Fatalf("unexpected context claims: %+v", claims)
	}
	if claims.Issuer != "riskgate" {
		t.Fatalf("unexpected issuer: %q", claims.Issuer)
	}
}

func TestCreateAndParseHS256(t *testing.T) {
	mgr, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := mgr.CreateAccess(sampleInput())
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := mgr.ParseAccess(token); err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	signer, err := NewManager(edConfig(t))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	verifier, err := NewManager(edConfig(t))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := signer.CreateAccess(sampleInput())
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := verifier.ParseAccess(token); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	cfg := edConfig(t)
	cfg.AccessTTL = time.Nanosecond
	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := mgr.CreateAccess(sampleInput())
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := mgr.ParseAccess(token); err == nil {
		t.Fatal("expected expiry failure")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	pub, priv := edKeyPair(t)

	signer, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "other-service",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	verifier, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "riskgate",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := signer.CreateAccess(sampleInput())
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := verifier.ParseAccess(token); err == nil {
		t.Fatal("expected issuer mismatch failure")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	mgr, err := NewManager(edConfig(t))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := mgr.ParseAccess(tok); err == nil {
			t.Fatalf("expected parse failure for %q", tok)
		}
	}
}

func TestVerifyKeysRotation(t *testing.T) {
	pub, priv := edKeyPair(t)
	oldPub, _ := edKeyPair(t)

	mgr, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		KeyID:         "k2",
		VerifyKeys: map[string][]byte{
			"k1": oldPub,
			"k2": pub,
		},
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := mgr.CreateAccess(sampleInput())
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}
	if _, err := mgr.ParseAccess(token); err != nil {
		t.Fatalf("ParseAccess with kid failed: %v", err)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	pub, priv := edKeyPair(t)

	cases := map[string]Config{
		"zero ttl": {
			SigningMethod: MethodEd25519,
			PrivateKey:    priv,
			PublicKey:     pub,
		},
		"missing ed25519 verify key": {
			AccessTTL:     time.Minute,
			SigningMethod: MethodEd25519,
			PrivateKey:    priv,
		},
		"short leeway bound": {
			AccessTTL:     time.Minute,
			SigningMethod: MethodEd25519,
			PrivateKey:    priv,
			PublicKey:     pub,
			Leeway:        5 * time.Minute,
		},
		"unknown method": {
			AccessTTL:     time.Minute,
			SigningMethod: "rs512",
			PrivateKey:    priv,
		},
		"kid absent from verify keys": {
			AccessTTL:     time.Minute,
			SigningMethod: MethodEd25519,
			PrivateKey:    priv,
			KeyID:         "k9",
			VerifyKeys:    map[string][]byte{"k1": pub},
		},
	}

	for name, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("%s: expected config rejection", name)
		}
	}
}
