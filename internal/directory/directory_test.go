package directory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/apperr"
	"gatehouse.org/internal/auth"
)

const seed = `
residents:
  - id: res-2
    name: Daniyar
    unit: 7A
  - id: res-1
    name: Aigerim
    unit: 4B
`

func TestLoadYAMLAndLookup(t *testing.T) {
	dir, err := LoadYAML(strings.NewReader(seed))
	require.NoError(t, err)

	r, err := dir.LookupResident(context.Background(), "res-1")
	require.NoError(t, err)
	assert.Equal(t, Resident{ID: "res-1", Name: "Aigerim", UnitNumber: "4B"}, r)

	_, err = dir.LookupResident(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	all, err := dir.Residents(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "4B", all[0].UnitNumber)
}

func TestLoadYAMLRejectsBadSeeds(t *testing.T) {
	_, err := LoadYAML(strings.NewReader("residents:\n  - name: nobody\n"))
	require.Error(t, err)

	_, err = LoadYAML(strings.NewReader("people: []\n"))
	require.Error(t, err, "unknown top-level keys are rejected")

	empty, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	all, _ := empty.Residents(context.Background())
	assert.Empty(t, all)
}

func TestListIsPolicyGated(t *testing.T) {
	dir := NewStatic(Resident{ID: "res-1", Name: "Aigerim", UnitNumber: "4B"})
	ctx := context.Background()

	_, err := List(ctx, auth.Principal{ID: "res-1", Role: auth.RoleResident, UnitNumber: "4B"}, dir)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleSecurity, auth.RoleSuperAdmin} {
		got, err := List(ctx, auth.Principal{ID: "staff", Role: role}, dir)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	}
}
