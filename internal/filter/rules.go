package filter

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules holds every threshold and column name the stages use. A rule file
// overrides only the keys it sets.
type Rules struct {
	KeyColumn string `yaml:"key_column"`

	IDRange struct {
		Column string `yaml:"column"`
		Min    int64  `yaml:"min"`
		Max    int64  `yaml:"max"`
	} `yaml:"id_range"`

	Contract struct {
		Column  string   `yaml:"column"`
		Allowed []string `yaml:"allowed"`
	} `yaml:"contract"`

	MinAge struct {
		Column string `yaml:"column"`
		Days   int    `yaml:"days"`
	} `yaml:"min_age"`

	ContractYear []YearRule `yaml:"contract_year"`

	LineCount struct {
		Column string  `yaml:"column"`
		Min    float64 `yaml:"min"`
		Max    float64 `yaml:"max"`
	} `yaml:"line_count"`

	Carrier struct {
		Column string `yaml:"column"`
		Value  string `yaml:"value"`
	} `yaml:"carrier"`

	KeyRange struct {
		Threshold int64    `yaml:"threshold"`
		Prefixes  []string `yaml:"prefixes"`
	} `yaml:"key_range"`

	Status struct {
		Allowed string `yaml:"allowed"`
	} `yaml:"status"`
}

// DefaultRules returns the production selection rules.
func DefaultRules() Rules {
	var r Rules
	r.KeyColumn = "linea"

	r.IDRange.Column = "dni"
	r.IDRange.Min = 10_000_000
	r.IDRange.Max = 99_999_999

	r.Contract.Column = "contrato"
	r.Contract.Allowed = []string{"Contrato CPP", "Activa (Prepago)"}

	r.MinAge.Column = "fecha_portout"
	r.MinAge.Days = 30

	r.ContractYear = []YearRule{
		{Category: "Contrato CPP", Years: []int{2023, 2024, 2025}},
		{Category: "Activa (Prepago)", Years: []int{2024, 2025}},
	}

	r.LineCount.Column = "cantidad_de_lineas"
	r.LineCount.Min = 1
	r.LineCount.Max = 7

	r.Carrier.Column = "compania"
	r.Carrier.Value = "Claro"

	r.KeyRange.Threshold = 3_000_000_000
	r.KeyRange.Prefixes = []string{"342", "341", "351", "387", "381"}

	r.Status.Allowed = "Port Out"
	return r
}

// LoadRules reads a YAML rule file over the defaults. An empty path returns
// the defaults.
func LoadRules(path string) (Rules, error) {
	r := DefaultRules()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return r, eris.Wrapf(err, "filter: read rules %s", path)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, eris.Wrapf(err, "filter: parse rules %s", path)
	}
	if err := r.Validate(); err != nil {
		return r, eris.Wrapf(err, "filter: rules %s", path)
	}
	return r, nil
}

// Validate rejects rule sets no row could pass.
func (r Rules) Validate() error {
	switch {
	case r.KeyColumn == "":
		return eris.New("key_column is empty")
	case r.IDRange.Min > r.IDRange.Max:
		return eris.Errorf("id_range: min %d > max %d", r.IDRange.Min, r.IDRange.Max)
	case r.LineCount.Min > r.LineCount.Max:
		return eris.Errorf("line_count: min %g > max %g", r.LineCount.Min, r.LineCount.Max)
	case r.MinAge.Days < 0:
		return eris.Errorf("min_age: negative days %d", r.MinAge.Days)
	case len(r.Contract.Allowed) == 0:
		return eris.New("contract: allowed list is empty")
	}
	return nil
}

// Inputs are the per-run sets some stages test against.
type Inputs struct {
	Exclusion KeySet
	Status    map[string]string
	Contacted KeySet
}

// BuildStages returns stages a through j in order.
func (r Rules) BuildStages(in Inputs, now time.Time) []Stage {
	return []Stage{
		NewSetStage(StageExclusion, r.KeyColumn, in.Exclusion),
		NewIntRange(StageIDRange, r.IDRange.Column, r.IDRange.Min, r.IDRange.Max),
		NewAllowStage(StageContract, r.Contract.Column, r.Contract.Allowed...),
		NewMinAge(r.MinAge.Column, time.Duration(r.MinAge.Days)*24*time.Hour, now),
		NewYearStage(r.Contract.Column, r.MinAge.Column, r.ContractYear),
		NewNumericRange(StageLineCount, r.LineCount.Column, r.LineCount.Min, r.LineCount.Max),
		NewAllowStage(StageCarrier, r.Carrier.Column, r.Carrier.Value),
		NewKeyRange(r.KeyColumn, r.KeyRange.Threshold, r.KeyRange.Prefixes),
		NewStatusStage(r.KeyColumn, in.Status, r.Status.Allowed),
		NewSetStage(StageContacted, r.KeyColumn, in.Contacted),
	}
}
