// Package migrate applies the payments schema with goose. The SQL files under
// migrations/ are embedded so every binary carries the schema it was built with.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	"github.com/locad/locad-payments/pkg/logger"
)

// DefaultDir is where `migrate -cmd=create` writes new files.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Schema returns the embedded payments migrations.
func Schema() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(fmt.Sprintf("embedded migrations: %v", err))
	}
	return sub
}

// Runner wraps a goose provider bound to one database and one migration set.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

// NewRunner prepares a Postgres runner. A session advisory lock keeps two
// instances from migrating at the same time.
func NewRunner(db *sql.DB, fsys fs.FS, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if fsys == nil {
		fsys = Schema()
	}
	if logg == nil {
		logg = logger.Nop()
	}
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, fmt.Errorf("create migration lock: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys, goose.WithSessionLocker(locker))
	if err != nil {
		return nil, fmt.Errorf("create goose provider: %w", err)
	}
	return &Runner{provider: provider, logg: logg}, nil
}

// Apply runs one of up, down, status or version. version needs a target.
func (r *Runner) Apply(ctx context.Context, command, target string) error {
	switch command {
	case "up":
		results, err := r.provider.Up(ctx)
		r.logResults(ctx, results)
		return wrapGoose("up", err)
	case "down":
		result, err := r.provider.Down(ctx)
		if result != nil {
			r.logResults(ctx, []*goose.MigrationResult{result})
		}
		return wrapGoose("down", err)
	case "status":
		return r.logStatus(ctx)
	case "version":
		return r.migrateTo(ctx, target)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

// migrateTo moves the schema up or down to target (YYYYMMDDHHMMSS).
func (r *Runner) migrateTo(ctx context.Context, target string) error {
	if target == "" {
		return errors.New("target version is required")
	}
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == version:
		r.logg.Info(r.logg.WithField(ctx, "version", current), "schema already at target version")
		return nil
	case current < version:
		results, err = r.provider.UpTo(ctx, version)
	default:
		results, err = r.provider.DownTo(ctx, version)
	}
	r.logResults(ctx, results)
	return wrapGoose(fmt.Sprintf("migrate to %d", version), err)
}

func (r *Runner) logResults(ctx context.Context, results []*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"file":        res.Source.Path,
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
		}), "migration applied")
	}
}

func (r *Runner) logStatus(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return wrapGoose("status", err)
	}
	for _, st := range statuses {
		fields := map[string]any{
			"version": st.Source.Version,
			"file":    st.Source.Path,
			"state":   string(st.State),
		}
		if !st.AppliedAt.IsZero() {
			fields["applied_at"] = st.AppliedAt
		}
		r.logg.Info(r.logg.WithFields(ctx, fields), "migration status")
	}
	return nil
}

// Close releases the provider's database handle.
func (r *Runner) Close() error {
	return r.provider.Close()
}

// wrapGoose treats "nothing to do" as success.
func wrapGoose(op string, err error) error {
	if err == nil || errors.Is(err, goose.ErrNoNextVersion) {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}
