package tuning

import (
	"fmt"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/utils"
)

// Reasons a value was repaired.
const (
	ReasonMissing    = "missing"
	ReasonNotNumeric = "not_numeric"
	ReasonBelowMin   = "below_min"
	ReasonAboveMax   = "above_max"
)

// A Correction records one repaired value.
type Correction struct {
	Param  string
	Reason string
	From   interface{}
	To     float64
}

func (c Correction) String() string {
	return fmt.Sprintf("%s %s: %v -> %v", c.Param, c.Reason, c.From, c.To)
}

// Validate returns a copy of values in which every declared parameter is present, numeric and
// within its range, along with the list of repairs made. Undeclared keys are kept untouched.
// It never rejects input.
func (s Schema) Validate(values config.AttributeMap) (config.AttributeMap, []Correction) {
	out := values.Copy()
	var corrections []Correction
	for _, p := range s {
		raw, has := values[p.Name]
		if !has {
			out[p.Name] = p.Default
			corrections = append(corrections, Correction{p.Name, ReasonMissing, nil, p.Default})
			continue
		}
		v, ok := values.Number(p.Name)
		if !ok || !utils.IsFinite(v) {
			out[p.Name] = p.Default
			corrections = append(corrections, Correction{p.Name, ReasonNotNumeric, raw, p.Default})
			continue
		}
		switch {
		case v < p.Min:
			out[p.Name] = p.Min
			corrections = append(corrections, Correction{p.Name, ReasonBelowMin, raw, p.Min})
		case v > p.Max:
			out[p.Name] = p.Max
			corrections = append(corrections, Correction{p.Name, ReasonAboveMax, raw, p.Max})
		default:
			if _, isFloat := raw.(float64); !isFloat {
				// A numeric string or boolean is rewritten as a plain number.
				out[p.Name] = v
				corrections = append(corrections, Correction{p.Name, ReasonNotNumeric, raw, v})
			}
		}
	}
	return out, corrections
}

// Validate repairs values against the schema of group. changed reports whether anything was
// repaired. Groups without a schema are returned as an unchanged copy.
func Validate(group Group, values config.AttributeMap) (repaired config.AttributeMap, changed bool) {
	s, err := SchemaFor(group)
	if err != nil {
		return values.Copy(), false
	}
	repaired, corrections := s.Validate(values)
	return repaired, len(corrections) > 0
}
