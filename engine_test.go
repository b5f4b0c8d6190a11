package riskgate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testPassword   = "correct-horse-battery"
	testIdentifier = "alice@example.com"
	testAccountID  = "acct-1"
)

// memAccountStore is the in-memory AccountStore used across engine
// tests.
type memAccountStore struct {
	mu          sync.Mutex
	byID        map[string]AccountRecord
	byIdent     map[string]string
	totp        map[string]TOTPRecord
	backupCodes map[string][]string
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{
		byID:        make(map[string]AccountRecord),
		byIdent:     make(map[string]string),
		totp:        make(map[string]TOTPRecord),
		backupCodes: make(map[string][]string),
	}
}

func (s *memAccountStore) put(a AccountRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.AccountID] = a
	s.byIdent[strings.ToLower(a.Identifier)] = a.AccountID
}

func (s *memAccountStore) setStatus(accountID string, status AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byID[accountID]
	a.Status = status
	s.byID[accountID] = a
}

func (s *memAccountStore) AccountByIdentifier(_ context.Context, identifier string) (*AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIdent[strings.ToLower(identifier)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	a := s.byID[id]
	return &a, nil
}

func (s *memAccountStore) AccountByID(_ context.Context, accountID string) (*AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (s *memAccountStore) TOTPRecord(_ context.Context, accountID string) (*TOTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.totp[accountID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memAccountStore) SaveTOTPRecord(_ context.Context, accountID string, record *TOTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totp[accountID] = *record
	return nil
}

func (s *memAccountStore) ReplaceBackupCodes(_ context.Context, accountID string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backupCodes[accountID] = append([]string(nil), hashes...)
	return nil
}

func (s *memAccountStore) BackupCodeHashes(_ context.Context, accountID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.backupCodes[accountID]...), nil
}

func (s *memAccountStore) ConsumeBackupCode(_ context.Context, accountID string, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backupCodes[accountID]
	for i, h := range codes {
		if h == hash {
			s.backupCodes[accountID] = append(codes[:i], codes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func testEngineConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.Risk.FingerprintSalt = []byte("test-salt-0123456789abcdef")

	// Cheapest parameters the floors allow; tests hash a lot.
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *memAccountStore, *miniredis.Miniredis) {
	t.Helper()
	return newTestEngineWithSink(t, cfg, nil)
}

func newTestEngineWithSink(t *testing.T, cfg Config, sink AuditSink) (*Engine, *memAccountStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemAccountStore()
	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(store)
	if sink != nil {
		b = b.WithAuditSink(sink)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, store, mr
}

func seedAccount(t *testing.T, engine *Engine, store *memAccountStore, mandatory bool) {
	t.Helper()

	hash, err := engine.passwordHasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	store.put(AccountRecord{
		AccountID:    testAccountID,
		Identifier:   testIdentifier,
		PasswordHash: hash,
		Role:         "user",
		Status:       AccountActive,
		MFAMandatory: mandatory,
	})
}

// deviceCtx builds the request context a browser-like client would
// produce.
func deviceCtx(origin, userAgent string) context.Context {
	ctx := WithOrigin(context.Background(), origin)
	return WithDeviceSignals(ctx, DeviceSignals{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US",
		Timezone:       "Europe/Berlin",
		Platform:       "Linux",
	})
}

func mfaCode(t *testing.T, secretBase32 string, cfg MFAConfig, offset int64) string {
	t.Helper()

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secretBase32))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	counter := time.Now().Unix()/int64(cfg.Period) + offset
	code, err := hotpCode(key, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

// enrollTOTP walks the public enrollment flow and returns the base32
// secret for minting codes.
func enrollTOTP(t *testing.T, engine *Engine) string {
	t.Helper()

	setup, err := engine.BeginTOTPEnrollment(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	if setup.SecretBase32 == "" || setup.ProvisionURI == "" {
		t.Fatalf("incomplete enrollment: %+v", setup)
	}

	code := mfaCode(t, setup.SecretBase32, engine.config.MFA, 0)
	if err := engine.ConfirmTOTPEnrollment(context.Background(), testAccountID, code); err != nil {
		t.Fatalf("ConfirmTOTPEnrollment failed: %v", err)
	}
	return setup.SecretBase32
}
