package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct using `validate` tags
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldType.Name, err)
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	rules := strings.Split(tag, ",")

	for _, rule := range rules {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]
		var arg string
		if len(parts) == 2 {
			arg = parts[1]
		}

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("is required")
			}
		case "min":
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("invalid min rule %q", arg)
			}
			if field.Kind() == reflect.String && len(field.String()) < n {
				return fmt.Errorf("must be at least %d characters", n)
			}
		case "max":
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("invalid max rule %q", arg)
			}
			if field.Kind() == reflect.String && len(field.String()) > n {
				return fmt.Errorf("must be at most %d characters", n)
			}
		case "email":
			if field.Kind() == reflect.String {
				s := field.String()
				if s != "" && (!strings.Contains(s, "@") || !strings.Contains(s, ".")) {
					return fmt.Errorf("must be a valid email")
				}
			}
		}
	}

	return nil
}
