package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gatehouse.org/internal/directory"
	"gatehouse.org/internal/store/pg"
)

func residentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "residents",
		Short: "Manage the resident directory",
	}
	importCmd := &cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Upsert residents from a YAML directory file into PostgreSQL",
		Args:  cobra.ExactArgs(1),
		RunE:  runResidentsImport,
	}
	importCmd.Flags().String("dsn", "", "PostgreSQL DSN (defaults to GATEHOUSE_PG_DSN)")
	importCmd.Flags().Bool("dry-run", false, "parse and print without writing")
	cmd.AddCommand(importCmd)
	return cmd
}

func runResidentsImport(cmd *cobra.Command, args []string) error {
	dir, err := directory.LoadFile(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	residents, err := dir.Residents(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		for _, r := range residents {
			fmt.Fprintf(out, "%s\t%s\t%s\n", r.ID, r.UnitNumber, r.Name)
		}
		fmt.Fprintf(out, "%d residents parsed, nothing written\n", len(residents))
		return nil
	}

	dsn, err := resolveDSN(cmd)
	if err != nil {
		return err
	}
	store, err := pg.Open(dsn, pg.Pool{MaxOpenConns: 2})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	repo := store.Residents()
	for _, r := range residents {
		if err := repo.Upsert(ctx, r); err != nil {
			return fmt.Errorf("upsert resident %s: %w", r.ID, err)
		}
	}
	fmt.Fprintf(out, "imported %d residents\n", len(residents))
	return nil
}
