package portalauth

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base32"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}

	cfg := defaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.MFA.Issuer = "SolStream"
	return cfg
}

// mockDirectory is an in-memory Directory for engine tests. All maps are
// guarded by one mutex; ConsumeBackupCode is atomic per the interface
// contract.
type mockDirectory struct {
	mu          sync.Mutex
	accounts    map[string]Account
	byEmail     map[string]string
	identifiers map[string]Identifier // key: type + "\x00" + value
	mfa         map[string]MfaState
	backups     map[string][]BackupCodeRecord
	memberships map[string][]Membership
	orgCusts    map[string][]string
	nextID      int
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		accounts:    map[string]Account{},
		byEmail:     map[string]string{},
		identifiers: map[string]Identifier{},
		mfa:         map[string]MfaState{},
		backups:     map[string][]BackupCodeRecord{},
		memberships: map[string][]Membership{},
		orgCusts:    map[string][]string{},
	}
}

func (m *mockDirectory) addAccount(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	m.byEmail[strings.ToLower(a.Email)] = a.ID
}

func identKey(typ IdentifierType, value string) string {
	return string(typ) + "\x00" + value
}

func (m *mockDirectory) AccountByID(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (m *mockDirectory) AccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return m.accounts[id], nil
}

func (m *mockDirectory) CreateAccount(_ context.Context, input CreateAccountInput) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[strings.ToLower(input.Email)]; ok {
		return Account{}, ErrConflict
	}
	m.nextID++
	a := Account{
		ID:          "acct-" + string(rune('0'+m.nextID)),
		Email:       strings.ToLower(input.Email),
		DisplayName: input.DisplayName,
		Kind:        input.Kind,
		Status:      input.Status,
		Role:        input.Role,
	}
	m.accounts[a.ID] = a
	m.byEmail[a.Email] = a.ID
	return a, nil
}

func (m *mockDirectory) VerifiedIdentifier(_ context.Context, typ IdentifierType, value string) (Identifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identifiers[identKey(typ, value)]
	if !ok || ident.Status != IdentifierVerified {
		return Identifier{}, ErrNotFound
	}
	return ident, nil
}

func (m *mockDirectory) CreateVerifiedIdentifier(_ context.Context, ident Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identKey(ident.Type, ident.Value)
	if existing, ok := m.identifiers[key]; ok && existing.Status == IdentifierVerified {
		if existing.AccountID != ident.AccountID {
			return ErrConflict
		}
		return nil
	}
	ident.Status = IdentifierVerified
	m.identifiers[key] = ident
	return nil
}

func (m *mockDirectory) RevokeIdentifier(_ context.Context, typ IdentifierType, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identKey(typ, value)
	ident, ok := m.identifiers[key]
	if !ok {
		return ErrNotFound
	}
	ident.Status = IdentifierRevoked
	m.identifiers[key] = ident
	return nil
}

func (m *mockDirectory) MFAState(_ context.Context, accountID string) (MfaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.mfa[accountID]
	if !ok {
		return MfaState{}, ErrNotFound
	}
	return state, nil
}

func (m *mockDirectory) StoreMFASecret(_ context.Context, accountID string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mfa[accountID] = MfaState{Secret: secret}
	return nil
}

func (m *mockDirectory) ActivateMFA(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.mfa[accountID]
	state.Enabled = true
	m.mfa[accountID] = state
	a := m.accounts[accountID]
	a.MFAEnabled = true
	m.accounts[accountID] = a
	return nil
}

func (m *mockDirectory) DisableMFA(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mfa, accountID)
	a := m.accounts[accountID]
	a.MFAEnabled = false
	m.accounts[accountID] = a
	return nil
}

func (m *mockDirectory) AdvanceMFACounter(_ context.Context, accountID string, counter int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.mfa[accountID]
	if counter <= state.LastUsedCounter {
		return false, nil
	}
	state.LastUsedCounter = counter
	m.mfa[accountID] = state
	return true, nil
}

func (m *mockDirectory) BackupCodes(_ context.Context, accountID string) ([]BackupCodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BackupCodeRecord(nil), m.backups[accountID]...), nil
}

func (m *mockDirectory) ReplaceBackupCodes(_ context.Context, accountID string, codes []BackupCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups[accountID] = append([]BackupCodeRecord(nil), codes...)
	return nil
}

func (m *mockDirectory) ConsumeBackupCode(_ context.Context, accountID string, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.backups[accountID]
	for i := range records {
		if subtle.ConstantTimeCompare(records[i].Hash[:], hash[:]) == 1 {
			m.backups[accountID] = append(records[:i], records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDirectory) Memberships(_ context.Context, accountID string) ([]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Membership(nil), m.memberships[accountID]...), nil
}

func (m *mockDirectory) CustomersOfOrganization(_ context.Context, orgID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	custs, ok := m.orgCusts[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), custs...), nil
}

func newTestEngine(t *testing.T, cfg Config, dir Directory, rdb *redis.Client) *Engine {
	t.Helper()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func codeForOffset(t *testing.T, secret string, cfg MFAConfig, offset int64) string {
	t.Helper()

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	counter := (time.Now().Unix() / int64(cfg.Period)) + offset
	code, err := hotpCode(key, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

func codeForNow(t *testing.T, secret string, cfg MFAConfig) string {
	t.Helper()
	return codeForOffset(t, secret, cfg, 0)
}
