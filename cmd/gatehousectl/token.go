package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gatehouse.org/internal/auth"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for a principal",
		Example: `  gatehousectl token --id res-demo-1 --role resident --unit 1A
  gatehousectl token --id guard-1 --role security --ttl 8h`,
		Args: cobra.NoArgs,
		RunE: runToken,
	}
	cmd.Flags().String("id", "", "principal id")
	cmd.Flags().String("role", "", "resident, security, admin or super_admin")
	cmd.Flags().String("unit", "", "unit number for residents")
	cmd.Flags().Duration("ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	id, _ := cmd.Flags().GetString("id")
	rawRole, _ := cmd.Flags().GetString("role")
	unit, _ := cmd.Flags().GetString("unit")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	role, ok := auth.ParseRole(rawRole)
	if !ok {
		return fmt.Errorf("unknown role %q", rawRole)
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}
	tokens, err := auth.NewTokens(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}
	token, expiresAt, err := tokens.Generate(auth.Principal{ID: id, Role: role, UnitNumber: unit}, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
