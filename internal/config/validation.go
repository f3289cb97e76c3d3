package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags on a Server or Client config.
func Validate(cfg any) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if s, ok := cfg.(*Server); ok && s.PasteBackend == "s3" && (s.S3AccessKey == "") != (s.S3SecretKey == "") {
		return fmt.Errorf("s3_access_key and s3_secret_key must be set together")
	}
	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
