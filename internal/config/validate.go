package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/juste-un-gars/scpsync/internal/pathpolicy"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string
	Tag   string
	Param string
}

// Message renders the failure for display.
func (e ValidationError) Message() string {
	switch {
	case e.Field == "host":
		return "Invalid host"
	case e.Field == "port":
		return "Invalid port number (must be between 1 and 65535)"
	case e.Field == "user":
		return "Invalid username"
	case e.Field == "remotePath":
		return "Invalid remote path"
	case strings.HasPrefix(e.Field, "ignore"):
		return "Invalid ignore pattern " + e.Field
	case e.Field == "syncMode":
		return "Invalid sync mode (must be upload, download or bidirectional)"
	default:
		return e.Field + " failed on " + e.Tag
	}
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	return strings.Join(v.Messages(), "; ")
}

// Messages returns one display line per failure.
func (v ValidationErrors) Messages() []string {
	out := make([]string, len(v))
	for i, e := range v {
		out[i] = e.Message()
	}
	return out
}

// Validate checks every field and reports all failures at once.
func (c *WorkspaceConfig) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return fmt.Errorf("validate workspace config: %w", err)
}

// Problems is Validate flattened to display lines; empty means valid.
func (c *WorkspaceConfig) Problems() []string {
	err := c.Validate()
	if err == nil {
		return nil
	}
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve.Messages()
	}
	return []string{err.Error()}
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if comma := strings.Index(name, ","); comma != -1 {
				name = name[:comma]
			}
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("safepath", func(fl validator.FieldLevel) bool {
			return pathpolicy.IsValidPath(fl.Field().String())
		})
		_ = validate.RegisterValidation("remotepath", func(fl validator.FieldLevel) bool {
			return pathpolicy.IsValidRemotePath(fl.Field().String())
		})
	})
	return validate
}
