package riskgate

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strconv"
	"time"
)

// BeginTOTPEnrollment mints a fresh TOTP secret for the account and
// stores it unconfirmed. The gate ignores unconfirmed enrollments; the
// account must prove possession via ConfirmTOTPEnrollment first.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, accountID string) (*TOTPEnrollment, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	account, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if account.Status != AccountActive {
		return nil, ErrAccountDisabled
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	record := &TOTPRecord{Secret: secret}
	if err := e.accounts.SaveTOTPRecord(ctx, accountID, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEntry{
		eventType: auditEventTOTPEnrollStarted,
		accountID: accountID,
		success:   true,
	})

	return &TOTPEnrollment{
		Secret:       secret,
		SecretBase32: secretBase32,
		ProvisionURI: e.totp.ProvisionURI(secretBase32, account.Identifier),
	}, nil
}

// ConfirmTOTPEnrollment proves possession of the enrolled secret.
// Already-confirmed enrollments confirm again as a no-op.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, accountID, code string) error {
	if err := e.checkReady(); err != nil {
		return err
	}

	record, err := e.accounts.TOTPRecord(ctx, accountID)
	if err != nil || record == nil {
		return ErrMFANotEnrolled
	}
	if record.Confirmed {
		return nil
	}

	ok, counter, err := e.totp.VerifyCode(record.Secret, code, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	if !ok {
		return ErrMFAInvalid
	}

	record.Confirmed = true
	record.LastCounter = counter
	if err := e.accounts.SaveTOTPRecord(ctx, accountID, record); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEntry{
		eventType: auditEventTOTPEnrollConfirmed,
		accountID: accountID,
		success:   true,
	})
	return nil
}

// GenerateBackupCodes replaces the account's backup codes and returns
// the plaintexts exactly once. Only argon2 hashes are stored.
func (e *Engine) GenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if e.config.MFA.BackupCodeCount == 0 {
		return nil, nil
	}

	if _, err := e.accounts.AccountByID(ctx, accountID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	codes := make([]string, 0, e.config.MFA.BackupCodeCount)
	hashes := make([]string, 0, e.config.MFA.BackupCodeCount)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)

	for i := 0; i < e.config.MFA.BackupCodeCount; i++ {
		raw := make([]byte, e.config.MFA.BackupCodeBytes)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		code := enc.EncodeToString(raw)

		hashed, err := e.passwordHasher.Hash(code)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, hashed)
	}

	if err := e.accounts.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEntry{
		eventType: auditEventBackupCodesRotated,
		accountID: accountID,
		success:   true,
		metadata:  map[string]string{"count": strconv.Itoa(len(codes))},
	})

	return codes, nil
}
