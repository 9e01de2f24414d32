package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report paths the way users write them in the config file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the rules that span sections.
// It returns ValidationErrors listing every problem.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validating configuration: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: describe(fe),
			})
		}
	}

	if c.Remote.Mode == RemoteModeSSH && c.Remote.Password == "" && c.Remote.PrivateKeyPath == "" {
		errs = append(errs, ValidationError{
			Path:    "remote",
			Message: "ssh mode needs a password or private_key_path",
		})
	}
	if c.Remote.StrictHostKeyChecking && c.Remote.KnownHostsPath == "" {
		errs = append(errs, ValidationError{
			Path:    "remote.known_hosts_path",
			Message: "is required when strict_host_key_checking is set",
		})
	}
	if c.Shutdown.MaxPollInterval > 0 && c.Shutdown.MaxPollInterval < c.Shutdown.PollInterval {
		errs = append(errs, ValidationError{
			Path:    "shutdown.max_poll_interval",
			Message: fmt.Sprintf("must not be shorter than poll_interval (%s)", c.Shutdown.PollInterval),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when trace_exporter is otlp"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "hostname_rfc1123|ip":
		return "must be a hostname or IP address"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
