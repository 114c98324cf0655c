package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gatehouse.org/internal/migrate"
	"gatehouse.org/internal/store/pg"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status|pending|seed]",
		Short: "Apply or inspect the PostgreSQL schema",
		Long: `Apply or inspect the PostgreSQL schema embedded in the binary.

  up       apply every pending migration
  down     roll back the most recent migration
  status   list applied migrations in order
  pending  list migrations not yet applied
  seed     load demo residents`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "status", "pending", "seed"},
		RunE:      runMigrate,
	}
	cmd.Flags().String("dsn", "", "PostgreSQL DSN (defaults to GATEHOUSE_PG_DSN)")
	cmd.Flags().Duration("timeout", 30*time.Second, "overall deadline")
	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dsn, err := resolveDSN(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	store, err := pg.Open(dsn, pg.Pool{MaxOpenConns: 2})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), pg.Migrations(), pg.Seeds())
	out := cmd.OutOrStdout()
	switch args[0] {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status", "pending":
		var names []string
		if args[0] == "status" {
			names, err = mgr.Status(ctx)
		} else {
			names, err = mgr.Pending(ctx)
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", args[0], err)
	}
	return nil
}

func resolveDSN(cmd *cobra.Command) (string, error) {
	if dsn, _ := cmd.Flags().GetString("dsn"); dsn != "" {
		return dsn, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Storage.DSN == "" {
		return "", errors.New("missing DSN: pass --dsn or set GATEHOUSE_PG_DSN")
	}
	return cfg.Storage.DSN, nil
}
