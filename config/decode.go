package config

import (
	"github.com/go-viper/mapstructure/v2"
)

// Decode maps a raw config section onto a typed struct using the same
// mapstructure tags viper applies to files. WeaklyTypedInput is on so the
// loosely typed values a YAML plugin section carries (numbers for strings,
// "true" for bools) decode the way a dedicated config file would.
func Decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
