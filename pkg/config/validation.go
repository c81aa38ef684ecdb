package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks the configuration using struct tags plus the rules that
// cannot be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	// The s3 scheme cannot run without its settings section; the file
	// scheme needs nothing.
	if cfg.Scheme.Type == "s3" && len(cfg.Scheme.S3) == 0 {
		return fmt.Errorf("scheme: s3 selected but scheme.s3 section is empty")
	}
	return nil
}

// formatValidationError converts validator errors into field-level
// messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldErr := range validationErrs {
			return fmt.Errorf("%s: failed %q validation (value: %v)",
				fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Value())
		}
	}
	return err
}
