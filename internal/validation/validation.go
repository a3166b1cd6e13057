// Package validation checks command inputs against their struct tags before
// any side effect runs.
package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		instance = v
	})
	return instance
}

// Struct validates s and converts failures into a *domain.ValidationError.
func Struct(s any) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}

	fields := make([]domain.FieldError, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, domain.FieldError{
			Field:   fe.Field(),
			Message: messageForTag(fe.Tag(), fe.Param()),
		})
	}
	return &domain.ValidationError{Fields: fields}
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "required"
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "oneof":
		return "must be one of: " + param
	case "gt":
		return "must be greater than " + param
	case "gte":
		return "must be at least " + param
	case "lte":
		return "must be at most " + param
	case "max":
		return "must be at most " + param + " characters"
	case "json":
		return "must be valid JSON"
	default:
		return "invalid value"
	}
}
