package riskgate

import (
	"errors"
	"fmt"
	"time"
)

// Credential and throttle errors. Login never distinguishes "no such
// account" from "wrong password"; both surface as ErrInvalidCredentials.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrThrottled          = errors.New("too many attempts")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
)

// MFA gate errors. ErrMFARequired is only returned by the Login
// convenience wrapper; LoginWithResult reports the gate through
// LoginResult instead.
var (
	ErrMFARequired         = errors.New("mfa required")
	ErrMFAInvalid          = errors.New("mfa code invalid")
	ErrMFALockedOut        = errors.New("mfa attempts exhausted")
	ErrMFAChallengeExpired = errors.New("mfa challenge expired")
	ErrMFANotEnrolled      = errors.New("mfa not enrolled")
	ErrMFAUnavailable      = errors.New("mfa backend unavailable")
	ErrBackupCodeInvalid   = errors.New("backup code invalid")
)

// Session and token errors.
var (
	ErrSessionRevoked        = errors.New("session revoked")
	ErrSessionExpired        = errors.New("session expired")
	ErrTokenInvalid          = errors.New("token invalid")
	ErrTokenReplay           = errors.New("refresh token replay detected")
	ErrFingerprintMismatch   = errors.New("device fingerprint mismatch")
	ErrAccessSessionRequired = errors.New("access token has no live session")
)

// Infrastructure and lifecycle errors.
var (
	ErrStoreUnavailable = errors.New("backing store unavailable")
	ErrEngineNotReady   = errors.New("engine not ready")
	ErrEngineClosed     = errors.New("engine closed")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// ThrottleError carries how long the caller should wait before the next
// attempt. It matches ErrThrottled under errors.Is.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter)
}

func (e *ThrottleError) Is(target error) bool {
	return target == ErrThrottled
}

// MFAAttemptError reports a failed challenge attempt together with the
// remaining budget. It matches ErrMFAInvalid under errors.Is, and the
// specific cause (ErrBackupCodeInvalid, ErrMFANotEnrolled) when one is
// set.
type MFAAttemptError struct {
	AttemptsRemaining int
	Cause             error
}

func (e *MFAAttemptError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s, %d attempts remaining", e.Cause, e.AttemptsRemaining)
	}
	return fmt.Sprintf("mfa code invalid, %d attempts remaining", e.AttemptsRemaining)
}

func (e *MFAAttemptError) Is(target error) bool {
	if target == ErrMFAInvalid {
		return true
	}
	return e.Cause != nil && errors.Is(e.Cause, target)
}
