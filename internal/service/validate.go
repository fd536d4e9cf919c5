package service

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
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	violations := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
		switch fe.Tag() {
		case "required":
			violations = append(violations, field+" is required")
		case "email":
			violations = append(violations, field+" must be a valid email")
		case "max":
			violations = append(violations, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "uuid":
			violations = append(violations, field+" must be a UUID")
		case "oneof":
			violations = append(violations, fmt.Sprintf("%s must be one of %s", field, fe.Param()))
		default:
			violations = append(violations, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return &ValidationError{Violations: violations}
}
