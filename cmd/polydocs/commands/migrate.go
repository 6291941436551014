package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"git.home.luguber.info/inful/polydocs/internal/config"
	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/ledger"
)

// MigrateCmd implements the 'migrate' command group.
type MigrateCmd struct {
	Up     MigrateUpCmd     `cmd:"" default:"1" help:"Apply pending migrations (default)"`
	Status MigrateStatusCmd `cmd:"" help:"List migrations and whether they are applied"`
}

// MigrateUpCmd implements 'migrate up'.
type MigrateUpCmd struct{}

func (m *MigrateUpCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	return RunMigrateUp(context.Background(), cfg, os.Stdout)
}

// MigrateStatusCmd implements 'migrate status'.
type MigrateStatusCmd struct{}

func (m *MigrateStatusCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	return RunMigrateStatus(context.Background(), cfg, os.Stdout)
}

func RunMigrateUp(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if err := ledger.Migrate(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN); err != nil {
		return errors.WrapError(err, errors.CategoryLedger, "apply ledger migrations").
			WithContext("driver", cfg.Ledger.Driver).Build()
	}
	_, _ = fmt.Fprintf(out, "Ledger schema is up to date (%s)\n", cfg.Ledger.Driver)
	return nil
}

func RunMigrateStatus(ctx context.Context, cfg *config.Config, out io.Writer) error {
	states, err := ledger.MigrationStatus(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN)
	if err != nil {
		return errors.WrapError(err, errors.CategoryLedger, "read ledger migration status").
			WithContext("driver", cfg.Ledger.Driver).Build()
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VERSION\tSTATE\tFILE")
	for _, s := range states {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Version, state, s.Path)
	}
	return tw.Flush()
}
