package portalauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/solstream/portalauth/internal"
)

// backupCodeAlphabet omits 0/O, 1/I/L, and 8/B so codes survive being
// read aloud or retyped from paper.
const backupCodeAlphabet = "2345679ACDEFGHJKMNPQRSTUVWXYZ"

// RegenerateBackupCodes replaces the account's backup code set. A valid
// current TOTP code is required: a stolen session alone must not be able
// to rotate the codes and lock recovery. Unused codes from the previous
// set stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, totpCode string) ([]string, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.VerifyMFA(ctx, accountID, totpCode); err != nil {
		return nil, err
	}

	codes, err := e.storeFreshBackupCodes(ctx, accountID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodeRegenerated)
	return codes, nil
}

// RedeemBackupCode consumes one backup code as a second factor. Each code
// works exactly once; of two concurrent redemptions of the same code, at
// most one succeeds.
func (e *Engine) RedeemBackupCode(ctx context.Context, accountID, code string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}
	return e.redeemBackupCode(ctx, accountID, code)
}

func (e *Engine) redeemBackupCode(ctx context.Context, accountID, code string) error {
	canonical, err := canonicalizeBackupCode(code, e.config.MFA.BackupCodeLength)
	if err != nil {
		return err
	}

	if err := e.backupLimiter.Check(ctx, accountID); err != nil {
		if errors.Is(err, errBackupRateLimited) {
			e.emitRateLimit(ctx, "backup_code", accountID, nil)
			return ErrRateLimited
		}
		return ErrUnavailable
	}

	state, err := e.directory.MFAState(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrMFANotConfigured
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !state.Enabled {
		return ErrMFANotConfigured
	}

	hash := internal.HashCode(accountID, canonical)
	consumed, err := e.directory.ConsumeBackupCode(ctx, accountID, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !consumed {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, accountID, "", ErrBackupCodeInvalid, nil)
		if err := e.backupLimiter.RecordFailure(ctx, accountID); err != nil && !errors.Is(err, errBackupRateLimited) {
			return ErrUnavailable
		}
		return ErrBackupCodeInvalid
	}

	if err := e.backupLimiter.Reset(ctx, accountID); err != nil {
		return ErrUnavailable
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, accountID, "", nil, nil)
	return nil
}

// storeFreshBackupCodes mints a new set, persists only the hashes, and
// returns the plaintexts for one-time display.
func (e *Engine) storeFreshBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	count := e.config.MFA.BackupCodeCount
	length := e.config.MFA.BackupCodeLength

	plain := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := newBackupCode(length)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		plain = append(plain, formatBackupCode(code))
		records = append(records, BackupCodeRecord{Hash: internal.HashCode(accountID, code)})
	}

	if err := e.directory.ReplaceBackupCodes(ctx, accountID, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"count": fmt.Sprintf("%d", count)}
	})

	return plain, nil
}

func newBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// formatBackupCode inserts a hyphen halfway for display. The canonical
// form has no hyphen.
func formatBackupCode(code string) string {
	half := len(code) / 2
	return code[:half] + "-" + code[half:]
}

// canonicalizeBackupCode strips separators and uppercases, so the code is
// accepted however the user transcribed it.
func canonicalizeBackupCode(code string, length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for _, r := range strings.ToUpper(strings.TrimSpace(code)) {
		if r == '-' || r == ' ' {
			continue
		}
		if r > 127 {
			return "", fmt.Errorf("%w: malformed backup code", ErrInvalidInput)
		}
		b.WriteByte(byte(r))
	}
	if b.Len() != length {
		return "", fmt.Errorf("%w: malformed backup code", ErrInvalidInput)
	}
	return b.String(), nil
}
