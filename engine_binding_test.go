package portalauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func bindingFixture(t *testing.T) (*Engine, *mockDirectory) {
	t.Helper()

	_, rdb := newTestRedis(t)
	dir := newMockDirectory()
	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountActive, Kind: KindCompany})
	return newTestEngine(t, testConfig(t), dir, rdb), dir
}

func TestRequestBindingIssuesChallenge(t *testing.T) {
	engine, _ := bindingFixture(t)
	ctx := context.Background()

	info, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551234567")
	if err != nil {
		t.Fatalf("RequestBinding failed: %v", err)
	}
	if info.ChallengeID == "" {
		t.Fatal("empty challenge id")
	}
	if len(info.Code) != 6 || !isDigitString(info.Code) {
		t.Fatalf("code = %q, want 6 digits", info.Code)
	}
	if !info.ExpiresAt.After(time.Now()) {
		t.Fatal("challenge already expired at issue time")
	}
}

func TestRequestBindingIsIdempotent(t *testing.T) {
	engine, _ := bindingFixture(t)
	ctx := context.Background()

	first, err := engine.RequestBinding(ctx, "acct-1", IdentifierEmail, "Lena.Ops@Solstream.example")
	if err != nil {
		t.Fatalf("first RequestBinding failed: %v", err)
	}
	second, err := engine.RequestBinding(ctx, "acct-1", IdentifierEmail, "lena.ops@solstream.example")
	if err != nil {
		t.Fatalf("second RequestBinding failed: %v", err)
	}
	if first.ChallengeID != second.ChallengeID {
		t.Errorf("challenge id changed: %s != %s", first.ChallengeID, second.ChallengeID)
	}
	if first.Code != second.Code {
		t.Errorf("reissue minted a new code")
	}
}

func TestRequestBindingRejectsVerifiedValue(t *testing.T) {
	engine, dir := bindingFixture(t)
	ctx := context.Background()

	dir.addAccount(Account{ID: "acct-2", Email: "other@solstream.example", Status: AccountActive})
	if err := dir.CreateVerifiedIdentifier(ctx, Identifier{
		Type: IdentifierPhone, Value: "+15551234567", AccountID: "acct-2", Status: IdentifierVerified,
	}); err != nil {
		t.Fatalf("seed identifier failed: %v", err)
	}

	_, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551234567")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestRequestBindingValidatesInput(t *testing.T) {
	engine, _ := bindingFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		typ   IdentifierType
		value string
	}{
		{"missing at sign", IdentifierEmail, "not-an-email"},
		{"no plus prefix", IdentifierPhone, "15551234567"},
		{"phone too short", IdentifierPhone, "+1555"},
		{"phone with letters", IdentifierPhone, "+1555ABC4567"},
		{"empty value", IdentifierEmail, "   "},
		{"unknown type", IdentifierType("fax"), "+15551234567"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.RequestBinding(ctx, "acct-1", tc.typ, tc.value)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestRequestBindingUnknownAccount(t *testing.T) {
	engine, _ := bindingFixture(t)

	_, err := engine.RequestBinding(context.Background(), "acct-nope", IdentifierPhone, "+15551234567")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestRequestBindingSuspendedAccount(t *testing.T) {
	engine, dir := bindingFixture(t)
	dir.addAccount(Account{ID: "acct-s", Email: "s@solstream.example", Status: AccountSuspended})

	_, err := engine.RequestBinding(context.Background(), "acct-s", IdentifierPhone, "+15551234567")
	if !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("err = %v, want ErrAccountSuspended", err)
	}
}

func TestRequestBindingRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.BindingRequestMax = 2

	_, rdb := newTestRedis(t)
	dir := newMockDirectory()
	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountActive})
	engine := newTestEngine(t, cfg, dir, rdb)
	ctx := context.Background()

	// The throttle is keyed per (account, value): reissues of the same
	// active challenge still count against the window.
	for i := 0; i < 2; i++ {
		if _, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551230001"); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	_, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551230001")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestVerifyBindingSuccess(t *testing.T) {
	engine, dir := bindingFixture(t)
	ctx := context.Background()

	info, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551234567")
	if err != nil {
		t.Fatalf("RequestBinding failed: %v", err)
	}

	ident, err := engine.VerifyBinding(ctx, info.ChallengeID, info.Code)
	if err != nil {
		t.Fatalf("VerifyBinding failed: %v", err)
	}
	if ident.AccountID != "acct-1" || ident.Value != "+15551234567" || ident.Status != IdentifierVerified {
		t.Fatalf("unexpected identifier: %+v", ident)
	}
	if ident.VerifiedBy != info.ChallengeID {
		t.Errorf("VerifiedBy = %s, want %s", ident.VerifiedBy, info.ChallengeID)
	}

	if _, err := dir.VerifiedIdentifier(ctx, IdentifierPhone, "+15551234567"); err != nil {
		t.Fatalf("identifier not persisted: %v", err)
	}

	// Consumed challenges answer not-found.
	if _, err := engine.VerifyBinding(ctx, info.ChallengeID, info.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replay err = %v, want ErrNotFound", err)
	}
}

func TestVerifyBindingWrongThenRightCode(t *testing.T) {
	engine, _ := bindingFixture(t)
	ctx := context.Background()

	info, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551234567")
	if err != nil {
		t.Fatalf("RequestBinding failed: %v", err)
	}

	wrong := "000000"
	if wrong == info.Code {
		wrong = "000001"
	}
	for i := 0; i < 2; i++ {
		if _, err := engine.VerifyBinding(ctx, info.ChallengeID, wrong); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("attempt %d err = %v, want ErrInvalidInput", i, err)
		}
	}

	// Third attempt, still under the cap of 3, succeeds.
	if _, err := engine.VerifyBinding(ctx, info.ChallengeID, info.Code); err != nil {
		t.Fatalf("correct code rejected: %v", err)
	}
}

func TestVerifyBindingAttemptsExhausted(t *testing.T) {
	engine, _ := bindingFixture(t)
	ctx := context.Background()

	info, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551234567")
	if err != nil {
		t.Fatalf("RequestBinding failed: %v", err)
	}

	wrong := "000000"
	if wrong == info.Code {
		wrong = "000001"
	}
	for i := 0; i < 3; i++ {
		_, err := engine.VerifyBinding(ctx, info.ChallengeID, wrong)
		if i < 2 && !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("attempt %d err = %v, want ErrInvalidInput", i, err)
		}
		if i == 2 && !errors.Is(err, ErrAttemptsExhausted) {
			t.Fatalf("attempt %d err = %v, want ErrAttemptsExhausted", i, err)
		}
	}

	// The correct code arriving late still answers exhausted, not success.
	if _, err := engine.VerifyBinding(ctx, info.ChallengeID, info.Code); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("late correct code err = %v, want ErrAttemptsExhausted", err)
	}
}

func TestVerifyBindingExpired(t *testing.T) {
	mr, rdb := newTestRedis(t)
	dir := newMockDirectory()
	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountActive})
	engine := newTestEngine(t, testConfig(t), dir, rdb)
	ctx := context.Background()

	info, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551234567")
	if err != nil {
		t.Fatalf("RequestBinding failed: %v", err)
	}

	mr.FastForward(11 * time.Minute)

	if _, err := engine.VerifyBinding(ctx, info.ChallengeID, info.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after redis TTL eviction", err)
	}
}

func TestVerifyBindingUnknownChallenge(t *testing.T) {
	engine, _ := bindingFixture(t)

	if _, err := engine.VerifyBinding(context.Background(), "no-such-challenge", "123456"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRevokeIdentifierAllowsRebinding(t *testing.T) {
	engine, _ := bindingFixture(t)
	ctx := context.Background()

	info, err := engine.RequestBinding(ctx, "acct-1", IdentifierEmail, "lena.ops@solstream.example")
	if err != nil {
		t.Fatalf("RequestBinding failed: %v", err)
	}
	if _, err := engine.VerifyBinding(ctx, info.ChallengeID, info.Code); err != nil {
		t.Fatalf("VerifyBinding failed: %v", err)
	}

	if err := engine.RevokeIdentifier(ctx, IdentifierEmail, "lena.ops@solstream.example"); err != nil {
		t.Fatalf("RevokeIdentifier failed: %v", err)
	}

	// The value is claimable again.
	if _, err := engine.RequestBinding(ctx, "acct-1", IdentifierEmail, "lena.ops@solstream.example"); err != nil {
		t.Fatalf("rebinding after revoke failed: %v", err)
	}
}

func TestRequestBindingAllowsSelfReverification(t *testing.T) {
	engine, dir := bindingFixture(t)
	ctx := context.Background()

	if err := dir.CreateVerifiedIdentifier(ctx, Identifier{
		Type: IdentifierPhone, Value: "+15551234567", AccountID: "acct-1", Status: IdentifierVerified,
	}); err != nil {
		t.Fatalf("seed identifier failed: %v", err)
	}

	// Re-proving a value the account already holds is not a conflict.
	info, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551234567")
	if err != nil {
		t.Fatalf("RequestBinding failed: %v", err)
	}
	if _, err := engine.VerifyBinding(ctx, info.ChallengeID, info.Code); err != nil {
		t.Fatalf("VerifyBinding failed: %v", err)
	}
}

// outageDirectory fails a configured number of identifier writes before
// recovering.
type outageDirectory struct {
	*mockDirectory
	identifierWriteFailures int
}

func (d *outageDirectory) CreateVerifiedIdentifier(ctx context.Context, ident Identifier) error {
	if d.identifierWriteFailures > 0 {
		d.identifierWriteFailures--
		return errors.New("directory offline")
	}
	return d.mockDirectory.CreateVerifiedIdentifier(ctx, ident)
}

func TestVerifyBindingRetriableAfterDirectoryOutage(t *testing.T) {
	_, rdb := newTestRedis(t)
	dir := newMockDirectory()
	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountActive, Kind: KindCompany})
	flaky := &outageDirectory{mockDirectory: dir, identifierWriteFailures: 1}
	engine := newTestEngine(t, testConfig(t), flaky, rdb)
	ctx := context.Background()

	info, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551234567")
	if err != nil {
		t.Fatalf("RequestBinding failed: %v", err)
	}

	if _, err := engine.VerifyBinding(ctx, info.ChallengeID, info.Code); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if _, err := dir.VerifiedIdentifier(ctx, IdentifierPhone, "+15551234567"); !errors.Is(err, ErrNotFound) {
		t.Fatal("identifier persisted despite the failed write")
	}

	// The challenge was not consumed by the failed attempt; the same
	// code succeeds once the directory is back.
	ident, err := engine.VerifyBinding(ctx, info.ChallengeID, info.Code)
	if err != nil {
		t.Fatalf("retry after outage failed: %v", err)
	}
	if ident.AccountID != "acct-1" || ident.Value != "+15551234567" {
		t.Fatalf("unexpected identifier: %+v", ident)
	}

	// Fully consumed now.
	if _, err := engine.VerifyBinding(ctx, info.ChallengeID, info.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRequestBindingClaimsDanglingIndex(t *testing.T) {
	engine, _ := bindingFixture(t)
	ctx := context.Background()

	// An index without its record, as left behind by an expiry race.
	idx := engine.bindingStore.indexKey("acct-1", "+15551234567")
	if err := engine.bindingStore.redis.Set(ctx, idx, "vanished-challenge", time.Minute).Err(); err != nil {
		t.Fatalf("seed index failed: %v", err)
	}

	info, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551234567")
	if err != nil {
		t.Fatalf("RequestBinding failed: %v", err)
	}
	if owner := engine.bindingStore.redis.Get(ctx, idx).Val(); owner != info.ChallengeID {
		t.Fatalf("index owner = %q, want %q", owner, info.ChallengeID)
	}

	// Idempotent reissue works again off the reclaimed index.
	second, err := engine.RequestBinding(ctx, "acct-1", IdentifierPhone, "+15551234567")
	if err != nil {
		t.Fatalf("reissue failed: %v", err)
	}
	if second.ChallengeID != info.ChallengeID || second.Code != info.Code {
		t.Fatal("reissue did not return the active challenge")
	}
}
