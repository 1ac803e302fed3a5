package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/gaborage/proxyfetch/proxy"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// configValidator reports field paths by their koanf keys so errors name the
// same path a user writes in YAML.
func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks cfg and returns the first problem found as a *ConfigError.
func Validate(cfg *Config) error {
	if err := configValidator().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldError(fieldErrs[0])
		}
		return err
	}

	return validateProxies(cfg.Proxies)
}

func validateProxies(proxies []proxy.Descriptor) error {
	supported := []string{
		string(proxy.ProtocolHTTP),
		string(proxy.ProtocolHTTPS),
		string(proxy.ProtocolSOCKS4),
		string(proxy.ProtocolSOCKS5),
	}

	for i, d := range proxies {
		if d.Protocol == proxy.ProtocolUnknown {
			return NewInvalidFieldError(fmt.Sprintf("proxies[%d].protocol", i), "unsupported proxy protocol", supported)
		}
	}
	return nil
}

func fieldError(fe validator.FieldError) *ConfigError {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch fe.Tag() {
	case "required", "required_unless":
		return NewMissingFieldError(field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("%q is not supported", fe.Value()), strings.Fields(fe.Param()))
	case "min":
		return NewInvalidFieldError(field, fmt.Sprintf("must be at least %s (got %v)", fe.Param(), fe.Value()), nil)
	case "max":
		return NewInvalidFieldError(field, fmt.Sprintf("must be at most %s (got %v)", fe.Param(), fe.Value()), nil)
	default:
		return NewInvalidFieldError(field, fmt.Sprintf("failed %q", fe.Tag()), nil)
	}
}
