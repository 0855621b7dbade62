package portalauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/solstream/portalauth/provider"
)

// fakeProvider satisfies provider.Provider without any HTTP. It records
// the last state it was asked to embed so tests can replay the callback.
type fakeProvider struct {
	name        string
	identity    provider.Identity
	exchangeErr error
	identityErr error

	lastState string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) AuthorizeURL(state, redirectURI string) string {
	f.lastState = state
	return "https://idp.example/authorize?state=" + state
}

func (f *fakeProvider) Exchange(_ context.Context, code, _ string) (string, error) {
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	return "token-for-" + code, nil
}

func (f *fakeProvider) Identity(_ context.Context, _ string) (provider.Identity, error) {
	if f.identityErr != nil {
		return provider.Identity{}, f.identityErr
	}
	return f.identity, nil
}

func oauthFixture(t *testing.T) (*Engine, *mockDirectory, *fakeProvider) {
	t.Helper()

	_, rdb := newTestRedis(t)
	dir := newMockDirectory()
	fake := &fakeProvider{
		name: "google",
		identity: provider.Identity{
			SubjectID:   "sub-123",
			Email:       "lena@solstream.example",
			DisplayName: "Lena Ops",
		},
	}

	engine, err := New().
		WithConfig(testConfig(t)).
		WithRedis(rdb).
		WithDirectory(dir).
		WithProvider(fake).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, dir, fake
}

func beginAuth(t *testing.T, engine *Engine, fake *fakeProvider) string {
	t.Helper()

	if _, err := engine.BeginAuth(context.Background(), "google", "https://portal.solstream.example/cb"); err != nil {
		t.Fatalf("BeginAuth failed: %v", err)
	}
	if fake.lastState == "" {
		t.Fatal("provider never saw a state value")
	}
	return fake.lastState
}

func TestBeginAuthUnknownProvider(t *testing.T) {
	engine, _, _ := oauthFixture(t)

	_, err := engine.BeginAuth(context.Background(), "gitlab", "https://portal.solstream.example/cb")
	if !errors.Is(err, ErrProviderMisconfigured) {
		t.Fatalf("err = %v, want ErrProviderMisconfigured", err)
	}
}

func TestCompleteAuthExistingAccount(t *testing.T) {
	engine, dir, fake := oauthFixture(t)
	ctx := context.Background()

	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountActive, Kind: KindCompany})

	state := beginAuth(t, engine, fake)
	outcome, err := engine.CompleteAuth(ctx, state, "auth-code")
	if err != nil {
		t.Fatalf("CompleteAuth failed: %v", err)
	}
	if outcome.AccountID != "acct-1" || outcome.SessionToken == "" || outcome.MFARequired || outcome.Pending {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	subject, _, err := engine.ValidateSession(ctx, outcome.SessionToken)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if subject.AccountID != "acct-1" {
		t.Errorf("subject account = %s, want acct-1", subject.AccountID)
	}

	// The provider subject is linked for future logins.
	if _, err := dir.VerifiedIdentifier(ctx, IdentifierOAuthSubject, "google:sub-123"); err != nil {
		t.Errorf("oauth subject not linked: %v", err)
	}
}

func TestCompleteAuthStateSingleUse(t *testing.T) {
	engine, dir, fake := oauthFixture(t)
	ctx := context.Background()

	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountActive})

	state := beginAuth(t, engine, fake)
	if _, err := engine.CompleteAuth(ctx, state, "auth-code"); err != nil {
		t.Fatalf("first CompleteAuth failed: %v", err)
	}
	if _, err := engine.CompleteAuth(ctx, state, "auth-code"); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("replay err = %v, want ErrStateInvalid", err)
	}
}

func TestCompleteAuthTamperedState(t *testing.T) {
	engine, _, _ := oauthFixture(t)

	for _, state := range []string{"", "garbage", "github.notsavednonce"} {
		if _, err := engine.CompleteAuth(context.Background(), state, "auth-code"); !errors.Is(err, ErrStateInvalid) {
			t.Errorf("state %q: err = %v, want ErrStateInvalid", state, err)
		}
	}
}

func TestCompleteAuthStateExpired(t *testing.T) {
	mr, rdb := newTestRedis(t)
	dir := newMockDirectory()
	fake := &fakeProvider{name: "google", identity: provider.Identity{SubjectID: "s", Email: "x@y.example"}}
	engine, err := New().WithConfig(testConfig(t)).WithRedis(rdb).WithDirectory(dir).WithProvider(fake).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	state := beginAuth(t, engine, fake)
	mr.FastForward(11 * time.Minute)

	if _, err := engine.CompleteAuth(context.Background(), state, "auth-code"); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("err = %v, want ErrStateInvalid after TTL", err)
	}
}

func TestCompleteAuthExchangeFailure(t *testing.T) {
	engine, _, fake := oauthFixture(t)
	fake.exchangeErr = provider.ErrExchangeFailed

	state := beginAuth(t, engine, fake)
	if _, err := engine.CompleteAuth(context.Background(), state, "auth-code"); !errors.Is(err, ErrProviderExchangeFailed) {
		t.Fatalf("err = %v, want ErrProviderExchangeFailed", err)
	}
}

func TestCompleteAuthNoEmail(t *testing.T) {
	engine, _, fake := oauthFixture(t)
	fake.identity.Email = ""

	state := beginAuth(t, engine, fake)
	if _, err := engine.CompleteAuth(context.Background(), state, "auth-code"); !errors.Is(err, ErrProviderNoEmail) {
		t.Fatalf("err = %v, want ErrProviderNoEmail", err)
	}
}

func TestCompleteAuthProvisionsPendingAccount(t *testing.T) {
	engine, dir, fake := oauthFixture(t)
	ctx := context.Background()

	state := beginAuth(t, engine, fake)
	outcome, err := engine.CompleteAuth(ctx, state, "auth-code")
	if err != nil {
		t.Fatalf("CompleteAuth failed: %v", err)
	}
	if !outcome.Pending || outcome.SessionToken != "" || outcome.MFARequired {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	account, err := dir.AccountByEmail(ctx, "lena@solstream.example")
	if err != nil {
		t.Fatalf("provisioned account missing: %v", err)
	}
	if account.Kind != KindCustomer || account.Status != AccountPendingApproval {
		t.Fatalf("provisioned account = %+v, want pending customer", account)
	}

	// Pending accounts resolve to the empty scope.
	scope, err := engine.ResolveScope(ctx, account.ID, false)
	if err != nil {
		t.Fatalf("ResolveScope failed: %v", err)
	}
	if !scope.IsEmpty() {
		t.Fatalf("pending account scope = %+v, want empty", scope)
	}
}

func TestCompleteAuthMatchesBySubjectAfterEmailChange(t *testing.T) {
	engine, dir, fake := oauthFixture(t)
	ctx := context.Background()

	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountActive})

	state := beginAuth(t, engine, fake)
	if _, err := engine.CompleteAuth(ctx, state, "code-1"); err != nil {
		t.Fatalf("first login failed: %v", err)
	}

	// The provider-side email changed; the subject link still wins.
	fake.identity.Email = "new-address@solstream.example"
	state = beginAuth(t, engine, fake)
	outcome, err := engine.CompleteAuth(ctx, state, "code-2")
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if outcome.AccountID != "acct-1" {
		t.Fatalf("resolved account = %s, want acct-1", outcome.AccountID)
	}
}

func TestCompleteAuthSuspendedAccount(t *testing.T) {
	engine, dir, fake := oauthFixture(t)

	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountSuspended})

	state := beginAuth(t, engine, fake)
	if _, err := engine.CompleteAuth(context.Background(), state, "auth-code"); !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("err = %v, want ErrAccountSuspended", err)
	}
}

func TestCompleteAuthMFABridge(t *testing.T) {
	engine, dir, fake := oauthFixture(t)
	ctx := context.Background()

	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountActive})
	secret, _ := enrollMFA(t, engine, "acct-1")

	state := beginAuth(t, engine, fake)
	outcome, err := engine.CompleteAuth(ctx, state, "auth-code")
	if err != nil {
		t.Fatalf("CompleteAuth failed: %v", err)
	}
	if !outcome.MFARequired || outcome.MFAChallenge == "" || outcome.SessionToken != "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	final, err := engine.ConfirmLoginMFA(ctx, outcome.MFAChallenge, codeForOffset(t, secret, engine.config.MFA, 1))
	if err != nil {
		t.Fatalf("ConfirmLoginMFA failed: %v", err)
	}
	if final.SessionToken == "" || final.AccountID != "acct-1" {
		t.Fatalf("unexpected final outcome: %+v", final)
	}

	// The challenge is consumed.
	if _, err := engine.ConfirmLoginMFA(ctx, outcome.MFAChallenge, codeForOffset(t, secret, engine.config.MFA, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reused challenge err = %v, want ErrNotFound", err)
	}
}

func TestConfirmLoginMFAAttemptsExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.MFA.LoginChallengeAttempts = 2
	cfg.RateLimit.MFAMaxAttempts = 10

	_, rdb := newTestRedis(t)
	dir := newMockDirectory()
	fake := &fakeProvider{name: "google", identity: provider.Identity{SubjectID: "sub-123", Email: "lena@solstream.example"}}
	engine, err := New().WithConfig(cfg).WithRedis(rdb).WithDirectory(dir).WithProvider(fake).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	ctx := context.Background()

	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountActive})
	secret, _ := enrollMFA(t, engine, "acct-1")

	state := beginAuth(t, engine, fake)
	outcome, err := engine.CompleteAuth(ctx, state, "auth-code")
	if err != nil {
		t.Fatalf("CompleteAuth failed: %v", err)
	}

	if _, err := engine.ConfirmLoginMFA(ctx, outcome.MFAChallenge, "000000"); !errors.Is(err, ErrMFACodeInvalid) {
		t.Fatalf("first wrong code err = %v, want ErrMFACodeInvalid", err)
	}
	if _, err := engine.ConfirmLoginMFA(ctx, outcome.MFAChallenge, "000000"); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("second wrong code err = %v, want ErrAttemptsExhausted", err)
	}

	// The challenge was destroyed at the cap; even the right code fails.
	if _, err := engine.ConfirmLoginMFA(ctx, outcome.MFAChallenge, codeForOffset(t, secret, engine.config.MFA, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("post-cap err = %v, want ErrNotFound", err)
	}
}

func TestConfirmLoginBackupCode(t *testing.T) {
	engine, dir, fake := oauthFixture(t)
	ctx := context.Background()

	dir.addAccount(Account{ID: "acct-1", Email: "lena@solstream.example", Status: AccountActive})
	_, codes := enrollMFA(t, engine, "acct-1")

	state := beginAuth(t, engine, fake)
	outcome, err := engine.CompleteAuth(ctx, state, "auth-code")
	if err != nil {
		t.Fatalf("CompleteAuth failed: %v", err)
	}

	final, err := engine.ConfirmLoginBackupCode(ctx, outcome.MFAChallenge, codes[0])
	if err != nil {
		t.Fatalf("ConfirmLoginBackupCode failed: %v", err)
	}
	if final.SessionToken == "" {
		t.Fatalf("unexpected final outcome: %+v", final)
	}
}

func TestProvidersLists(t *testing.T) {
	engine, _, _ := oauthFixture(t)

	names := engine.Providers()
	if len(names) != 1 || names[0] != "google" {
		t.Fatalf("Providers() = %v, want [google]", names)
	}
}
