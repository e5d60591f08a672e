package protocol

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
	"github.com/dropDatabas3/idbridge/internal/store/pg"
)

// Tests de integración contra Postgres real. Se saltan sin IDBRIDGE_TEST_DSN:
//
//	IDBRIDGE_TEST_DSN="postgres://...?sslmode=disable" go test ./internal/store/protocol/
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("IDBRIDGE_TEST_DSN")
	if dsn == "" {
		t.Skip("requires IDBRIDGE_TEST_DSN")
	}
	pool, err := pg.Open(context.Background(), pg.PoolConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := pg.RunMigrations(context.Background(), pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func TestAdapterConsumeIsMonotonic(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	codes := NewStore(pool).Kind(KindAuthorizationCode)
	id := uuid.NewString()

	if err := codes.Upsert(ctx, id, map[string]any{"grantId": "g-" + id, "n": float64(1)}, 600); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := codes.Find(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if _, consumed := got["consumed"]; consumed {
		t.Fatal("fresh record must not report consumed")
	}

	if err := codes.Consume(ctx, id); err != nil {
		t.Fatalf("consume: %v", err)
	}
	got, err = codes.Find(ctx, id)
	if err != nil {
		t.Fatalf("find after consume: %v", err)
	}
	if got["consumed"] != true {
		t.Fatal("consumed record must merge consumed: true")
	}

	// consumir dos veces no falla ni cambia nada
	if err := codes.Consume(ctx, id); err != nil {
		t.Fatalf("second consume: %v", err)
	}

	// un reemplazo posterior NO resucita el registro: consumed_at se preserva
	if err := codes.Upsert(ctx, id, map[string]any{"grantId": "g-" + id, "n": float64(2)}, 600); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err = codes.Find(ctx, id)
	if err != nil {
		t.Fatalf("find after re-upsert: %v", err)
	}
	if got["consumed"] != true {
		t.Fatal("re-upsert must not clear consumption")
	}
	if got["n"] != float64(2) {
		t.Fatalf("re-upsert must replace the payload, n = %v", got["n"])
	}
}

func TestAdapterFindDoesNotFilterExpired(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	codes := NewStore(pool).Kind(KindAuthorizationCode)
	id := uuid.NewString()

	if err := codes.Upsert(ctx, id, map[string]any{"x": "y"}, 600); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// forzar la expiración al pasado: decidir sobre expirados es del caller
	if _, err := pool.Exec(ctx,
		`UPDATE oidc_authorization_codes SET expires_at = now() - interval '1 hour' WHERE id = $1`, id); err != nil {
		t.Fatalf("expire: %v", err)
	}

	got, err := codes.Find(ctx, id)
	if err != nil {
		t.Fatalf("expired record must still be found: %v", err)
	}
	if got["x"] != "y" {
		t.Fatalf("payload = %v", got)
	}
}

func TestAdapterSecondaryLookupsAndDestroy(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewStore(pool)

	device := store.Kind(KindDeviceCode)
	id := uuid.NewString()
	userCode := "WXYZ-" + id[:8]
	if err := device.Upsert(ctx, id, map[string]any{"userCode": userCode}, 600); err != nil {
		t.Fatalf("upsert device code: %v", err)
	}
	if _, err := device.FindByUserCode(ctx, userCode); err != nil {
		t.Fatalf("find by user_code: %v", err)
	}

	session := store.Kind(KindSession)
	sid := uuid.NewString()
	browserUID := "uid-" + sid[:8]
	if err := session.Upsert(ctx, sid, map[string]any{"uid": browserUID}, 600); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	if _, err := session.FindByUID(ctx, browserUID); err != nil {
		t.Fatalf("find by uid: %v", err)
	}

	if err := session.Destroy(ctx, sid); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := session.Find(ctx, sid); !repository.IsNotFound(err) {
		t.Fatalf("find after destroy: err = %v", err)
	}
	// destruir un id inexistente no es error
	if err := session.Destroy(ctx, sid); err != nil {
		t.Fatalf("destroy twice: %v", err)
	}
}

func TestRevokeByGrantIDDeletesOnlyMatchingRows(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewStore(pool)

	grantID := uuid.NewString()
	otherGrant := uuid.NewString()
	tokens := store.Kind(KindAccessToken)
	refresh := store.Kind(KindRefreshToken)

	at1 := uuid.NewString()
	rt1 := uuid.NewString()
	at2 := uuid.NewString()
	for _, w := range []struct {
		a  *Adapter
		id string
		g  string
	}{
		{tokens, at1, grantID},
		{refresh, rt1, grantID},
		{tokens, at2, otherGrant},
	} {
		if err := w.a.Upsert(ctx, w.id, map[string]any{"grantId": w.g}, 600); err != nil {
			t.Fatalf("upsert %s: %v", w.id, err)
		}
	}

	if err := store.RevokeByGrantID(ctx, grantID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := tokens.Find(ctx, at1); !repository.IsNotFound(err) {
		t.Fatalf("access token of revoked grant must be gone, err = %v", err)
	}
	if _, err := refresh.Find(ctx, rt1); !repository.IsNotFound(err) {
		t.Fatalf("refresh token of revoked grant must be gone, err = %v", err)
	}
	if _, err := tokens.Find(ctx, at2); err != nil {
		t.Fatalf("token of another grant must survive: %v", err)
	}
}
