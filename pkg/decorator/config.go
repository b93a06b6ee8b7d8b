package decorator

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeConfig decodes a decorator configuration into out.
// Input is weakly typed so values authored as strings in YAML or HCL
// decode into numeric and boolean fields. Unknown keys are rejected.
func DecodeConfig(config map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := dec.Decode(config); err != nil {
		return fmt.Errorf("invalid decorator config: %w", err)
	}
	return nil
}

// validatorFor builds a ConfigValidator that decodes into a fresh T and runs check.
func validatorFor[T any](check func(*T) error) ConfigValidator {
	return func(config map[string]any) error {
		var cfg T
		if err := DecodeConfig(config, &cfg); err != nil {
			return err
		}
		if check == nil {
			return nil
		}
		return check(&cfg)
	}
}
