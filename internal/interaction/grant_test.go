package interaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
)

type fakeGrantRecords struct {
	records map[string]map[string]any
	ttls    map[string]int
}

func newFakeGrantRecords() *fakeGrantRecords {
	return &fakeGrantRecords{records: map[string]map[string]any{}, ttls: map[string]int{}}
}

func (f *fakeGrantRecords) Find(_ context.Context, id string) (map[string]any, error) {
	if p, ok := f.records[id]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeGrantRecords) Upsert(_ context.Context, id string, payload map[string]any, ttl int) error {
	f.records[id] = payload
	f.ttls[id] = ttl
	return nil
}

func TestConfirmConsentCreatesGrant(t *testing.T) {
	records := newFakeGrantRecords()
	g := NewGranter(records, 3600)
	ctx := context.Background()

	grantID, err := g.ConfirmConsent(ctx, ConsentInput{
		AccountID: "acc-1",
		ClientID:  "web",
		Scopes:    []string{"openid", "email"},
		Claims:    []string{"nickname"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, grantID)

	payload := records.records[grantID]
	require.NotNil(t, payload)
	assert.Equal(t, "acc-1", payload["accountId"])
	assert.Equal(t, "web", payload["clientId"])
	openid := payload["openid"].(map[string]any)
	assert.Equal(t, "openid email", openid["scope"])
	assert.Equal(t, []any{"nickname"}, openid["claims"])
	assert.Equal(t, 3600, records.ttls[grantID])
}

func TestConfirmConsentRejectsMalformedScopes(t *testing.T) {
	records := newFakeGrantRecords()
	g := NewGranter(records, 0)
	ctx := context.Background()

	_, err := g.ConfirmConsent(ctx, ConsentInput{
		AccountID: "acc-1",
		ClientID:  "web",
		Scopes:    []string{"openid", "BAD;scope"},
	})
	assert.ErrorIs(t, err, repository.ErrInvalidInput)
	assert.Empty(t, records.records, "nothing persisted on invalid input")

	_, err = g.ConfirmConsent(ctx, ConsentInput{
		AccountID:      "acc-1",
		ClientID:       "web",
		ResourceScopes: map[string][]string{"https://api.example.com": {"doc read"}},
	})
	assert.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestConfirmConsentReusesAndAccumulates(t *testing.T) {
	records := newFakeGrantRecords()
	g := NewGranter(records, 0)
	ctx := context.Background()

	first, err := g.ConfirmConsent(ctx, ConsentInput{
		AccountID: "acc-1", ClientID: "web",
		Scopes: []string{"openid"},
	})
	require.NoError(t, err)

	second, err := g.ConfirmConsent(ctx, ConsentInput{
		GrantID:   first,
		AccountID: "acc-1", ClientID: "web",
		Scopes:         []string{"email"},
		Claims:         []string{"nickname"},
		ResourceScopes: map[string][]string{"urn:api:billing": {"invoices:read"}},
	})
	require.NoError(t, err)
	assert.Equal(t, first, second, "existing grant must be reused")

	openid := records.records[first]["openid"].(map[string]any)
	assert.Equal(t, "openid email", openid["scope"], "prior scopes are never lost")
	resources := records.records[first]["resources"].(map[string]any)
	assert.Equal(t, "invoices:read", resources["urn:api:billing"])
}

func TestLoadGrantState(t *testing.T) {
	records := newFakeGrantRecords()
	g := NewGranter(records, 0)
	ctx := context.Background()

	id, err := g.ConfirmConsent(ctx, ConsentInput{
		AccountID: "acc-1", ClientID: "web",
		Scopes:               []string{"openid", "email"},
		Claims:               []string{"nickname"},
		ResourceScopes:       map[string][]string{"urn:api:billing": {"invoices:read"}},
		AuthorizationDetails: []map[string]any{{"type": "payment_initiation"}},
	})
	require.NoError(t, err)

	st, err := g.LoadGrantState(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, st)

	assert.Contains(t, st.Scopes, "email")
	assert.Contains(t, st.Claims, "nickname")
	assert.Contains(t, st.ResourceScopes["urn:api:billing"], "invoices:read")
	assert.True(t, st.RARConsented)

	// grant inexistente: estado nil, sin error
	st, err = g.LoadGrantState(ctx, "no-such-grant")
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = g.LoadGrantState(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestLoadGrantStateFeedsEvaluate(t *testing.T) {
	records := newFakeGrantRecords()
	g := NewGranter(records, 0)
	ctx := context.Background()

	id, err := g.ConfirmConsent(ctx, ConsentInput{
		AccountID: "acc-1", ClientID: "web",
		Scopes: []string{"openid", "email"},
	})
	require.NoError(t, err)

	st, err := g.LoadGrantState(ctx, id)
	require.NoError(t, err)

	env := baseEnv()
	env.Params.Scope = "openid email"
	env.Grant = st

	d := newTestPolicy("acc-1").Evaluate(ctx, env)
	assert.True(t, d.None(), "everything consented, got %+v", d)
}
