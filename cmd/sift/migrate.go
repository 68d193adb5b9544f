package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/phrazzld/sift/internal/platform/sqlite"
)

// migrateCommand manages the task database schema without touching task
// rows. "up" applies pending migrations, "status" lists them and "version"
// prints the current schema version; the last two never migrate.
func (app *application) migrateCommand(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: migrate needs one of up, status or version", errUsage)
	}

	if args[0] == "up" {
		// Open migrates under the claim lock.
		store, err := app.openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		return app.printVersion(ctx, store.DB())
	}

	db, err := sqlite.OpenDB(ctx, app.storeConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	switch args[0] {
	case "status":
		statuses, err := sqlite.Status(ctx, db)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "pending"
			if s.Applied {
				applied = s.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(app.stdout, "%05d\t%s\t%s\n", s.Version, applied, s.Path)
		}
		return nil
	case "version":
		return app.printVersion(ctx, db)
	default:
		return fmt.Errorf("%w: unknown migrate action %q", errUsage, args[0])
	}
}

func (app *application) printVersion(ctx context.Context, db *sql.DB) error {
	version, err := sqlite.Version(ctx, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.stdout, "version=%d\n", version)
	return nil
}
