package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gatehouse.org/internal/auth"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	t.Setenv("GATEHOUSE_CONFIG", "")
	t.Setenv("GATEHOUSE_AUTH_SECRET", "cli-secret")

	out, errOut, err := execute(t, "token", "--id", "res-demo-1", "--role", "Resident", "--unit", "1A", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if !strings.Contains(errOut, "expires") {
		t.Fatalf("expiry not reported: %q", errOut)
	}

	tokens, err := auth.NewTokens("cli-secret", auth.WithIssuer("gatehouse"))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	p, err := tokens.ParseAndValidate(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token rejected: %v", err)
	}
	want := auth.Principal{ID: "res-demo-1", Role: auth.RoleResident, UnitNumber: "1A"}
	if p != want {
		t.Fatalf("principal %+v, want %+v", p, want)
	}
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	t.Setenv("GATEHOUSE_CONFIG", "")
	t.Setenv("GATEHOUSE_AUTH_SECRET", "cli-secret")
	if _, _, err := execute(t, "token", "--id", "x", "--role", "janitor"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestResidentsImportDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "residents.yaml")
	seed := "residents:\n  - id: res-1\n    name: Aigerim\n    unit: 4B\n  - id: res-2\n    name: Dana\n    unit: 1A\n"
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	out, _, err := execute(t, "residents", "import", path, "--dry-run")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "res-1\t4B\tAigerim") || !strings.Contains(out, "2 residents parsed") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("GATEHOUSE_CONFIG", "")
	t.Setenv("GATEHOUSE_PG_DSN", "")
	_, _, err := execute(t, "migrate", "status")
	if err == nil || !strings.Contains(err.Error(), "missing DSN") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}
