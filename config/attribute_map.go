package config

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// AttributeMap is a loosely typed JSON object such as the contents of a tuning file.
type AttributeMap map[string]interface{}

// Has reports whether name is present.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// Number returns the value of name coerced to a float64. ok is false when name is absent or
// holds something that is not numeric (booleans count as 0 and 1, numeric strings are parsed).
func (am AttributeMap) Number(name string) (v float64, ok bool) {
	x, has := am[name]
	if !has || x == nil {
		return 0, false
	}
	v, err := cast.ToFloat64E(x)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Float64 returns the numeric value of name or def if it is absent or not numeric.
func (am AttributeMap) Float64(name string, def float64) float64 {
	if v, ok := am.Number(name); ok {
		return v
	}
	return def
}

// Bool returns whether the numeric value of name is above one half, or def if it is absent.
func (am AttributeMap) Bool(name string, def bool) bool {
	if v, ok := am.Number(name); ok {
		return v > 0.5
	}
	return def
}

// Copy returns a shallow copy of the map.
func (am AttributeMap) Copy() AttributeMap {
	out := make(AttributeMap, len(am))
	for k, v := range am {
		out[k] = v
	}
	return out
}

// Decode decodes the map into the struct pointed to by into using its json tags.
func (am AttributeMap) Decode(into interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           into,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(am)); err != nil {
		return errors.Wrap(err, "failed to decode attributes")
	}
	return nil
}
