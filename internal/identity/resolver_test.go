package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idbridge/internal/cache"
	"github.com/dropDatabas3/idbridge/internal/domain/repository"
	"github.com/dropDatabas3/idbridge/internal/rate"
)

// ─── fakes ──────────────────────────────────────────────────────────────────

type fakeAccounts struct {
	byEmail map[string]*repository.Account
	nextID  int
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byEmail: map[string]*repository.Account{}}
}

func (f *fakeAccounts) add(email string, password *string) *repository.Account {
	f.nextID++
	acc := &repository.Account{
		ID:           fmt.Sprintf("acc-%d", f.nextID),
		Email:        email,
		PasswordHash: password,
		CreatedAt:    time.Now(),
	}
	f.byEmail[email] = acc
	return acc
}

func (f *fakeAccounts) GetByID(_ context.Context, id string) (*repository.Account, error) {
	for _, acc := range f.byEmail {
		if acc.ID == id {
			return acc, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (*repository.Account, error) {
	if acc, ok := f.byEmail[email]; ok {
		return acc, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccounts) Create(_ context.Context, email string, passwordHash *string) (*repository.Account, error) {
	if _, ok := f.byEmail[email]; ok {
		return nil, repository.ErrConflict
	}
	return f.add(email, passwordHash), nil
}

func (f *fakeAccounts) FindOrCreateByEmail(ctx context.Context, email string) (*repository.Account, error) {
	if acc, ok := f.byEmail[email]; ok {
		return acc, nil
	}
	return f.add(email, nil), nil
}

func (f *fakeAccounts) CheckPassword(hash *string, password string) bool {
	return hash != nil && *hash == "hash:"+password
}

type fakeFederated struct {
	links     map[string]*repository.FederatedIdentity // key provider|sub
	touched   []string
	createErr error
}

func newFakeFederated() *fakeFederated {
	return &fakeFederated{links: map[string]*repository.FederatedIdentity{}}
}

func fkey(provider, sub string) string { return provider + "|" + sub }

func (f *fakeFederated) GetByProviderSubject(_ context.Context, provider, subject string) (*repository.FederatedIdentity, error) {
	if fi, ok := f.links[fkey(provider, subject)]; ok {
		return fi, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeFederated) ListByAccount(_ context.Context, accountID string) ([]repository.FederatedIdentity, error) {
	var out []repository.FederatedIdentity
	for _, fi := range f.links {
		if fi.AccountID == accountID {
			out = append(out, *fi)
		}
	}
	return out, nil
}

func (f *fakeFederated) Create(_ context.Context, in repository.CreateFederatedIdentityInput) (*repository.FederatedIdentity, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	key := fkey(in.ProviderName, in.ProviderSub)
	if _, ok := f.links[key]; ok {
		return nil, repository.ErrConflict
	}
	fi := &repository.FederatedIdentity{
		ID:            "fi-" + key,
		AccountID:     in.AccountID,
		ProviderName:  in.ProviderName,
		ProviderSub:   in.ProviderSub,
		ProviderEmail: in.ProviderEmail,
		Claims:        in.Claims,
		Verified:      in.Verified,
	}
	f.links[key] = fi
	return fi, nil
}

func (f *fakeFederated) Touch(_ context.Context, id string, claims map[string]any) error {
	f.touched = append(f.touched, id)
	for _, fi := range f.links {
		if fi.ID == id {
			fi.Claims = claims
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeFederated) Verify(_ context.Context, accountID, provider, subject string) error {
	fi, ok := f.links[fkey(provider, subject)]
	if !ok || fi.AccountID != accountID {
		return repository.ErrNotFound
	}
	fi.Verified = true
	return nil
}

type fakeOracle struct{ owned map[string]bool }

func (f *fakeOracle) IsOwnedDomain(_ context.Context, email string) bool {
	for domain := range f.owned {
		if len(email) > len(domain) && email[len(email)-len(domain)-1] == '@' &&
			email[len(email)-len(domain):] == domain {
			return true
		}
	}
	return false
}

func newTestResolver() (*Resolver, *fakeAccounts, *fakeFederated) {
	accounts := newFakeAccounts()
	federated := newFakeFederated()
	oracle := &fakeOracle{owned: map[string]bool{"corp.example.com": true}}
	return NewResolver(accounts, federated, oracle), accounts, federated
}

func googleClaims(sub, email string) map[string]any {
	return map[string]any{"sub": sub, "email": email, "name": "Ana"}
}

// ─── árbol de decisión ──────────────────────────────────────────────────────

func TestResolveFederatedPreconditions(t *testing.T) {
	r, accounts, federated := newTestResolver()
	ctx := context.Background()

	_, err := r.ResolveFederated(ctx, "google", map[string]any{"email": "a@b.com"})
	assert.ErrorIs(t, err, ErrMissingSubject)

	_, err = r.ResolveFederated(ctx, "google", map[string]any{"sub": "u-1"})
	assert.ErrorIs(t, err, ErrMissingEmail)

	// las precondiciones fallan antes de cualquier escritura
	assert.Empty(t, accounts.byEmail)
	assert.Empty(t, federated.links)
}

func TestResolveFederatedKnownVerifiedLink(t *testing.T) {
	r, accounts, federated := newTestResolver()
	ctx := context.Background()

	acc := accounts.add("ana@gmail.com", nil)
	federated.links[fkey("google", "u-1")] = &repository.FederatedIdentity{
		ID: "fi-1", AccountID: acc.ID, ProviderName: "google", ProviderSub: "u-1", Verified: true,
	}

	res, err := r.ResolveFederated(ctx, "google", googleClaims("u-1", "ana@gmail.com"))
	require.NoError(t, err)
	assert.Equal(t, acc.ID, res.Account.ID)
	assert.False(t, res.RequiresVerification)
	assert.Equal(t, []string{"fi-1"}, federated.touched, "known link must refresh last_used_at")
}

func TestResolveFederatedKnownUnverifiedLinkStaysPending(t *testing.T) {
	r, accounts, federated := newTestResolver()
	ctx := context.Background()

	acc := accounts.add("ana@corp.example.com", nil)
	federated.links[fkey("google", "u-1")] = &repository.FederatedIdentity{
		ID: "fi-1", AccountID: acc.ID, ProviderName: "google", ProviderSub: "u-1", Verified: false,
	}

	res, err := r.ResolveFederated(ctx, "google", googleClaims("u-1", "ana@corp.example.com"))
	require.NoError(t, err)
	assert.True(t, res.RequiresVerification, "unverified link is inert until ownership proof")
}

func TestResolveFederatedOwnedDomainExistingAccount(t *testing.T) {
	r, accounts, federated := newTestResolver()
	ctx := context.Background()

	acc := accounts.add("ana@corp.example.com", nil)

	res, err := r.ResolveFederated(ctx, "google", googleClaims("u-1", "ana@corp.example.com"))
	require.NoError(t, err)
	assert.Equal(t, acc.ID, res.Account.ID)
	assert.True(t, res.RequiresVerification)

	fi := federated.links[fkey("google", "u-1")]
	require.NotNil(t, fi, "link must be persisted immediately")
	assert.False(t, fi.Verified, "owned-domain link must be born unverified")
}

func TestResolveFederatedOwnedDomainWithoutAccountIsDenied(t *testing.T) {
	r, accounts, federated := newTestResolver()
	ctx := context.Background()

	_, err := r.ResolveFederated(ctx, "google", googleClaims("u-1", "nadie@corp.example.com"))
	assert.ErrorIs(t, err, ErrOwnedDomainAccountNotFound)

	// jamás auto-crear en dominio propio
	assert.Empty(t, accounts.byEmail)
	assert.Empty(t, federated.links)
}

func TestResolveFederatedExternalDomainAutoCreates(t *testing.T) {
	r, accounts, federated := newTestResolver()
	ctx := context.Background()

	res, err := r.ResolveFederated(ctx, "google", googleClaims("u-1", "ana@gmail.com"))
	require.NoError(t, err)
	assert.False(t, res.RequiresVerification)

	acc := accounts.byEmail["ana@gmail.com"]
	require.NotNil(t, acc)
	assert.Nil(t, acc.PasswordHash, "federated accounts are created without password")

	fi := federated.links[fkey("google", "u-1")]
	require.NotNil(t, fi)
	assert.True(t, fi.Verified, "external domain is trusted on first use")
}

func TestResolveFederatedExternalDomainReusesAccount(t *testing.T) {
	r, accounts, _ := newTestResolver()
	ctx := context.Background()

	existing := accounts.add("ana@gmail.com", nil)

	res, err := r.ResolveFederated(ctx, "google", googleClaims("u-1", "ana@gmail.com"))
	require.NoError(t, err)
	assert.Equal(t, existing.ID, res.Account.ID)
	assert.Len(t, accounts.byEmail, 1)
}

func TestResolveFederatedEmailIsCaseFolded(t *testing.T) {
	r, accounts, _ := newTestResolver()
	ctx := context.Background()

	accounts.add("ana@corp.example.com", nil)

	res, err := r.ResolveFederated(ctx, "google", googleClaims("u-1", "Ana@CORP.example.COM"))
	require.NoError(t, err)
	assert.True(t, res.RequiresVerification)
}

func TestResolveFederatedAbsorbsCreateRace(t *testing.T) {
	r, accounts, federated := newTestResolver()
	ctx := context.Background()

	acc := accounts.add("ana@gmail.com", nil)
	// el Create pierde la carrera: otro callback ya insertó el link
	federated.createErr = repository.ErrConflict
	federated.links[fkey("google", "u-1")] = &repository.FederatedIdentity{
		ID: "fi-winner", AccountID: acc.ID, ProviderName: "google", ProviderSub: "u-1", Verified: true,
	}

	res, err := r.ResolveFederated(ctx, "google", googleClaims("u-1", "ana@gmail.com"))
	require.NoError(t, err, "losing the unique-index race must not surface an error")
	assert.Equal(t, acc.ID, res.Account.ID)
	assert.False(t, res.RequiresVerification)
}

// ─── verificación y login local ─────────────────────────────────────────────

func TestVerifyFederatedIdentity(t *testing.T) {
	r, accounts, federated := newTestResolver()
	ctx := context.Background()

	acc := accounts.add("ana@corp.example.com", nil)
	federated.links[fkey("google", "u-1")] = &repository.FederatedIdentity{
		ID: "fi-1", AccountID: acc.ID, ProviderName: "google", ProviderSub: "u-1", Verified: false,
	}

	require.NoError(t, r.VerifyFederatedIdentity(ctx, acc.ID, "google", "u-1"))
	assert.True(t, federated.links[fkey("google", "u-1")].Verified)

	err := r.VerifyFederatedIdentity(ctx, "other-account", "google", "u-1")
	assert.True(t, repository.IsNotFound(err), "mismatched triple must fail")
}

func TestAuthenticateLocal(t *testing.T) {
	r, accounts, _ := newTestResolver()
	ctx := context.Background()

	hash := "hash:secreto"
	acc := accounts.add("ana@corp.example.com", &hash)

	got, err := r.AuthenticateLocal(ctx, "ana@corp.example.com", "secreto")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	// email desconocido y password incorrecto devuelven el MISMO error
	_, errUnknown := r.AuthenticateLocal(ctx, "nadie@x.com", "secreto")
	_, errWrong := r.AuthenticateLocal(ctx, "ana@corp.example.com", "otra")
	assert.ErrorIs(t, errUnknown, ErrAuthenticationFailed)
	assert.ErrorIs(t, errWrong, ErrAuthenticationFailed)
}

func TestAuthenticateLocalRateLimited(t *testing.T) {
	r, accounts, _ := newTestResolver()
	ctx := context.Background()

	hash := "hash:secreto"
	accounts.add("ana@corp.example.com", &hash)
	r.WithLoginLimiter(rate.NewMemoryLimiter(2, time.Minute))

	_, _ = r.AuthenticateLocal(ctx, "ana@corp.example.com", "mal")
	_, _ = r.AuthenticateLocal(ctx, "ana@corp.example.com", "mal")

	// tercera dentro de la ventana: bloqueada aunque el password sea correcto
	_, err := r.AuthenticateLocal(ctx, "ana@corp.example.com", "secreto")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	// otra cuenta no comparte la ventana
	accounts.add("bob@corp.example.com", &hash)
	_, err = r.AuthenticateLocal(ctx, "bob@corp.example.com", "secreto")
	require.NoError(t, err)
}

func TestAuthenticateLocalLimiterFailureOpensThrough(t *testing.T) {
	r, accounts, _ := newTestResolver()
	ctx := context.Background()

	hash := "hash:secreto"
	accounts.add("ana@corp.example.com", &hash)
	r.WithLoginLimiter(brokenLimiter{})

	// limiter caído: el login sigue funcionando
	_, err := r.AuthenticateLocal(ctx, "ana@corp.example.com", "secreto")
	require.NoError(t, err)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (rate.Result, error) {
	return rate.Result{}, errors.New("redis down")
}

func TestAuthenticateLocalRejectsPasswordlessAccount(t *testing.T) {
	r, accounts, _ := newTestResolver()
	ctx := context.Background()

	accounts.add("fed@gmail.com", nil) // cuenta creada por federación

	_, err := r.AuthenticateLocal(ctx, "fed@gmail.com", "cualquiera")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

// ─── claims ─────────────────────────────────────────────────────────────────

func TestClaims(t *testing.T) {
	name := "Ana"
	acc := &repository.Account{ID: "acc-1", Email: "ana@x.com", Name: &name, Admin: true}

	minimal := Claims(acc, "openid")
	assert.Equal(t, "acc-1", minimal["sub"])
	assert.NotContains(t, minimal, "email")
	assert.NotContains(t, minimal, "name")

	full := Claims(acc, "openid email profile")
	assert.Equal(t, "ana@x.com", full["email"])
	assert.Equal(t, true, full["email_verified"])
	assert.Equal(t, "Ana", full["name"])
	assert.Equal(t, true, full["admin"])
}

// ─── pending links ──────────────────────────────────────────────────────────

func TestPendingLinksRoundtrip(t *testing.T) {
	stash := NewPendingLinks(cache.NewMemory("test"), time.Minute)
	ctx := context.Background()

	link := PendingLink{
		Provider: "google",
		Subject:  "u-1",
		Email:    "ana@corp.example.com",
		Claims:   map[string]any{"sub": "u-1", "email": "ana@corp.example.com"},
	}
	require.NoError(t, stash.Put(ctx, "uid-77", link))

	got, err := stash.Get(ctx, "uid-77")
	require.NoError(t, err)
	assert.Equal(t, link.Provider, got.Provider)
	assert.Equal(t, link.Email, got.Email)

	require.NoError(t, stash.Delete(ctx, "uid-77"))
	_, err = stash.Get(ctx, "uid-77")
	assert.True(t, cache.IsNotFound(err))
}
