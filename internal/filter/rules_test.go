package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRules_DefaultsWhenNoFile(t *testing.T) {
	r, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), r)
	assert.NoError(t, r.Validate())
}

func TestLoadRules_OverridesOnlyGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
min_age:
  days: 45
carrier:
  value: Personal
contract_year:
  - category: Contrato CPP
    years: [2026]
key_range:
  prefixes: ["261"]
`), 0o644))

	r, err := LoadRules(path)
	require.NoError(t, err)

	assert.Equal(t, 45, r.MinAge.Days)
	assert.Equal(t, "fecha_portout", r.MinAge.Column)
	assert.Equal(t, "Personal", r.Carrier.Value)
	assert.Equal(t, "compania", r.Carrier.Column)
	assert.Equal(t, []YearRule{{Category: "Contrato CPP", Years: []int{2026}}}, r.ContractYear)
	assert.Equal(t, []string{"261"}, r.KeyRange.Prefixes)
	assert.Equal(t, int64(3_000_000_000), r.KeyRange.Threshold)
	assert.Equal(t, int64(10_000_000), r.IDRange.Min)
}

func TestLoadRules_Errors(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("min_age: [1, 2"), 0o644))
	_, err = LoadRules(bad)
	assert.Error(t, err)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("line_count:\n  min: 9\n  max: 1\n"), 0o644))
	_, err = LoadRules(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line_count")
}

func TestRules_Validate(t *testing.T) {
	r := DefaultRules()
	r.IDRange.Min = 5
	r.IDRange.Max = 1
	assert.Error(t, r.Validate())

	r = DefaultRules()
	r.Contract.Allowed = nil
	assert.Error(t, r.Validate())

	r = DefaultRules()
	r.KeyColumn = ""
	assert.Error(t, r.Validate())

	r = DefaultRules()
	r.MinAge.Days = -1
	assert.Error(t, r.Validate())
}
