package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
	"github.com/dropDatabas3/idbridge/internal/observability/logger"
)

// Claves del payload que se promueven a columnas propias para poder
// indexarlas. Los nombres siguen el formato del payload, no el de SQL.
const (
	payloadGrantID  = "grantId"
	payloadUserCode = "userCode"
	payloadUID      = "uid"
)

// Store agrupa los adaptadores por Kind sobre un único pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore crea el almacén de registros de protocolo.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Kind devuelve el adaptador para un tipo de registro concreto.
// Pánico con Kind inválida: es un error de programación.
func (s *Store) Kind(k Kind) *Adapter {
	if !k.Valid() {
		panic(fmt.Sprintf("protocol: unknown kind %d", int(k)))
	}
	return &Adapter{kind: k, pool: s.pool}
}

// EnsureTables verifica que todas las tablas de respaldo existen. Se llama
// en el arranque: un esquema incompleto es fatal, no degradable.
func (s *Store) EnsureTables(ctx context.Context) error {
	for _, k := range AllKinds() {
		var reg *string
		err := s.pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, k.Table()).Scan(&reg)
		if err != nil {
			return fmt.Errorf("protocol: check table %s: %w", k.Table(), err)
		}
		if reg == nil {
			return fmt.Errorf("protocol: missing table %s (run migrations)", k.Table())
		}
	}
	logger.L().Debug("protocol storage tables verified", logger.Count(int(kindCount)))
	return nil
}

// RevokeByGrantID elimina todos los artefactos ligados a un grant en todas
// las Kinds revocables. Se usa al revocar o rotar un grant completo.
func (s *Store) RevokeByGrantID(ctx context.Context, grantID string) error {
	if grantID == "" {
		return repository.ErrInvalidInput
	}
	for _, k := range AllKinds() {
		if !k.Grantable() {
			continue
		}
		query := fmt.Sprintf(`DELETE FROM %s WHERE grant_id = $1`, k.Table())
		if _, err := s.pool.Exec(ctx, query, grantID); err != nil {
			return fmt.Errorf("protocol: revoke %s by grant: %w", k, err)
		}
	}
	return nil
}

// Adapter opera sobre los registros de una única Kind.
type Adapter struct {
	kind Kind
	pool *pgxpool.Pool
}

// Upsert escribe o reemplaza el registro completo. ttlSeconds <= 0 significa
// sin expiración. consumed_at no se toca en el reemplazo: el consumo es
// monotónico y un upsert posterior no resucita un registro ya consumido.
func (a *Adapter) Upsert(ctx context.Context, id string, payload map[string]any, ttlSeconds int) error {
	if id == "" {
		return repository.ErrInvalidInput
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("protocol: marshal %s payload: %w", a.kind, err)
	}

	var expiresAt *time.Time
	if ttlSeconds > 0 {
		t := time.Now().Add(time.Duration(ttlSeconds) * time.Second)
		expiresAt = &t
	}

	meta := kinds[a.kind]
	cols := []string{"id", "data", "expires_at"}
	args := []any{id, data, expiresAt}

	if meta.hasGrantID {
		cols = append(cols, "grant_id")
		args = append(args, stringField(payload, payloadGrantID))
	}
	if meta.hasUserCode {
		cols = append(cols, "user_code")
		args = append(args, stringField(payload, payloadUserCode))
	}
	if meta.hasUID {
		cols = append(cols, "uid")
		args = append(args, stringField(payload, payloadUID))
	}

	query := upsertQuery(meta.table, cols)
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("protocol: upsert %s: %w", a.kind, err)
	}
	return nil
}

// Find devuelve el payload por id. Si el registro fue consumido, el payload
// lleva "consumed": true mezclado. La expiración NO se filtra aquí: decidir
// qué hacer con un registro expirado es responsabilidad del llamador.
func (a *Adapter) Find(ctx context.Context, id string) (map[string]any, error) {
	query := fmt.Sprintf(`SELECT data, consumed_at FROM %s WHERE id = $1`, a.kind.Table())
	return a.findOne(ctx, query, id)
}

// FindByUserCode busca un DeviceCode por su código de usuario.
func (a *Adapter) FindByUserCode(ctx context.Context, userCode string) (map[string]any, error) {
	if !kinds[a.kind].hasUserCode {
		return nil, fmt.Errorf("protocol: %s does not support user_code lookup", a.kind)
	}
	query := fmt.Sprintf(`SELECT data, consumed_at FROM %s WHERE user_code = $1`, a.kind.Table())
	return a.findOne(ctx, query, userCode)
}

// FindByUID busca una Session por su uid de navegador.
func (a *Adapter) FindByUID(ctx context.Context, uid string) (map[string]any, error) {
	if !kinds[a.kind].hasUID {
		return nil, fmt.Errorf("protocol: %s does not support uid lookup", a.kind)
	}
	query := fmt.Sprintf(`SELECT data, consumed_at FROM %s WHERE uid = $1`, a.kind.Table())
	return a.findOne(ctx, query, uid)
}

func (a *Adapter) findOne(ctx context.Context, query, arg string) (map[string]any, error) {
	var (
		raw        []byte
		consumedAt *time.Time
	)
	err := a.pool.QueryRow(ctx, query, arg).Scan(&raw, &consumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("protocol: find %s: %w", a.kind, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal %s payload: %w", a.kind, err)
	}
	if consumedAt != nil {
		payload["consumed"] = true
	}
	return payload, nil
}

// Destroy elimina el registro. Borrar un id inexistente no es un error.
func (a *Adapter) Destroy(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, a.kind.Table())
	if _, err := a.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("protocol: destroy %s: %w", a.kind, err)
	}
	return nil
}

// Consume marca el registro como usado. Idempotente: consumir dos veces (o
// consumir un id inexistente) no falla, el primer consumo es el que cuenta.
func (a *Adapter) Consume(ctx context.Context, id string) error {
	query := fmt.Sprintf(
		`UPDATE %s SET consumed_at = now(), updated_at = now() WHERE id = $1 AND consumed_at IS NULL`,
		a.kind.Table(),
	)
	if _, err := a.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("protocol: consume %s: %w", a.kind, err)
	}
	return nil
}

// ─── helpers ────────────────────────────────────────────────────────────────

func stringField(payload map[string]any, key string) *string {
	if v, ok := payload[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

func upsertQuery(table string, cols []string) string {
	placeholders := ""
	setClause := ""
	colList := ""
	for i, c := range cols {
		if i > 0 {
			colList += ", "
			placeholders += ", "
		}
		colList += c
		placeholders += fmt.Sprintf("$%d", i+1)
		if c == "id" {
			continue
		}
		if setClause != "" {
			setClause += ", "
		}
		setClause += fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	// consumed_at queda fuera del SET: una vez consumido, siempre consumido
	setClause += ", updated_at = now()"

	return fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
		table, colList, placeholders, setClause,
	)
}
