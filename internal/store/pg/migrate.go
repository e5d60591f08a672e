package pg

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	migrations "github.com/dropDatabas3/idbridge/migrations/postgres"
)

// RunMigrations aplica las migraciones _up.sql embebidas, en orden
// lexicográfico. Los archivos son idempotentes (IF NOT EXISTS), así que
// re-ejecutar es seguro.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	return runSQL(ctx, pool, "_up.sql", false)
}

// RunMigrationsDown aplica las _down.sql en orden inverso.
func RunMigrationsDown(ctx context.Context, pool *pgxpool.Pool) error {
	return runSQL(ctx, pool, "_down.sql", true)
}

func runSQL(ctx context.Context, pool *pgxpool.Pool, suffix string, reverse bool) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("pg: read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if reverse {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	for _, f := range files {
		b, err := fs.ReadFile(migrations.FS, f)
		if err != nil {
			return fmt.Errorf("pg: read migration %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("pg: exec %s: %w", f, err)
		}
	}
	return nil
}
