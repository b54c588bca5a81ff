package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	dir := NewStatic(Data{
		Roles: map[string][]string{
			"HR":      {"hana", " hugo ", "hana", ""},
			"finance": {"fiona"},
		},
		Managers: map[string]string{
			"Emp-1": "mgr-1",
			"emp-2": " ",
		},
	})

	tests := []struct {
		name string
		role string
		want []string
	}{
		{name: "dedupes and trims", role: "hr", want: []string{"hana", "hugo"}},
		{name: "case insensitive", role: " FINANCE ", want: []string{"fiona"}},
		{name: "unknown role", role: "legal", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dir.UsersInRole(ctx, tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	mgr, err := dir.ReportingManager(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "mgr-1", mgr)

	none, err := dir.ReportingManager(ctx, "emp-2")
	require.NoError(t, err)
	assert.Empty(t, none, "blank managers are dropped")
}

func TestStatic_ReturnsCopies(t *testing.T) {
	dir := NewStatic(Data{Roles: map[string][]string{"hr": {"hana", "hugo"}}})

	users, _ := dir.UsersInRole(context.Background(), "hr")
	users[0] = "mallory"

	again, _ := dir.UsersInRole(context.Background(), "hr")
	assert.Equal(t, []string{"hana", "hugo"}, again)
}

func TestStatic_Reload(t *testing.T) {
	dir := NewStatic(Data{Managers: map[string]string{"emp-1": "mgr-1"}})
	dir.Reload(Data{Managers: map[string]string{"emp-1": "mgr-2"}})

	mgr, err := dir.ReportingManager(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "mgr-2", mgr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	content := `
roles:
  hr: [hana, hugo]
managers:
  emp-1: mgr-1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	dir, err := LoadFile(path)
	require.NoError(t, err)

	users, err := dir.UsersInRole(context.Background(), "hr")
	require.NoError(t, err)
	assert.Equal(t, []string{"hana", "hugo"}, users)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("roles: [not, a, map]"), 0o600))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}
