package migrate

import (
	"context"
	"fmt"

	"github.com/locad/locad-payments/pkg/config"
	"github.com/locad/locad-payments/pkg/db"
	"github.com/locad/locad-payments/pkg/logger"
)

// MaybeRunDev applies the embedded payments schema on startup in dev when
// the auto-migrate flag is on.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.SQL()
	if err != nil {
		return fmt.Errorf("open sql handle: %w", err)
	}
	// The runner shares the pool with the service; it is not closed here.
	runner, err := NewRunner(sqlDB, Schema(), logg)
	if err != nil {
		return err
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	logg.Info(ctx, "applying payments schema")
	if err := runner.Apply(ctx, "up", ""); err != nil {
		return err
	}
	logg.Info(ctx, "payments schema up to date")
	return nil
}
