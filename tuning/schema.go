// Package tuning persists hot-reloadable controller parameters as JSON files, one per group,
// and pushes validated values into the running controller.
package tuning

import (
	"github.com/pkg/errors"

	"github.com/hybridlat/latcontrol/config"
)

// Group names a set of tunable parameters backed by one file.
type Group string

// Known groups. The lateral groups bind to a controller mode; common and scc only expose values.
const (
	GroupLQR    Group = "lat_lqr"
	GroupINDI   Group = "lat_indi"
	GroupTorque Group = "lat_torque"
	GroupCommon Group = "common"
	GroupSCC    Group = "scc"
)

// FileName returns the name of the group's file inside the tuning directory.
func (g Group) FileName() string {
	if g == GroupTorque {
		// v4 marks the maxLatAccel based layout; older torque files are not compatible.
		return string(g) + "_v4.json"
	}
	return string(g) + ".json"
}

// Param declares a tunable value and its accepted range.
type Param struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

// Schema is the ordered list of parameters of a group.
type Schema []Param

var schemas = map[Group]Schema{
	GroupLQR: {
		{"scale", 500.0, 5000.0, 1600.0},
		{"ki", 0.0, 0.2, 0.01},
		{"dcGain", 0.002, 0.004, 0.0025},
		{"steerLimitTimer", 0.5, 3.0, 2.5},
	},
	GroupINDI: {
		{"actuatorEffectiveness", 0.5, 3.0, 1.8},
		{"timeConstant", 0.5, 3.0, 1.4},
		{"innerLoopGain", 1.0, 5.0, 3.3},
		{"outerLoopGain", 1.0, 5.0, 2.8},
	},
	GroupTorque: {
		{"useSteeringAngle", 0., 1., 1.},
		{"maxLatAccel", 0.5, 4.0, 2.0},
		{"friction", 0.0, 0.2, 0.01},
		{"ki_factor", 0.0, 1.0, 0.1},
		{"kd", 0.0, 2.0, 0.0},
		{"deadzone", 0.0, 0.05, 0.0},
	},
	GroupCommon: {
		{"useLiveSteerRatio", 0., 1., 1.},
		{"steerRatio", 10.0, 20.0, 16.5},
		{"steerActuatorDelay", 0., 0.8, 0.1},
		{"steerRateCost", 0.1, 1.5, 0.4},
		{"pathOffset", -1.0, 1.0, 0.0},
	},
	GroupSCC: {
		{"sccGasFactor", 0.5, 1.5, 1.0},
		{"sccBrakeFactor", 0.5, 1.5, 1.0},
		{"sccCurvatureFactor", 0.5, 1.5, 0.98},
	},
}

// Groups returns every known group in a stable order.
func Groups() []Group {
	return []Group{GroupLQR, GroupINDI, GroupTorque, GroupCommon, GroupSCC}
}

// SchemaFor returns the schema of group.
func SchemaFor(group Group) (Schema, error) {
	s, ok := schemas[group]
	if !ok {
		return nil, errors.Errorf("unknown tuning group %q", group)
	}
	return s, nil
}

// Lookup returns the declaration of name.
func (s Schema) Lookup(name string) (Param, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Defaults returns a parameter set holding every default value.
func (s Schema) Defaults() config.AttributeMap {
	out := make(config.AttributeMap, len(s))
	for _, p := range s {
		out[p.Name] = p.Default
	}
	return out
}
