// Package output parses and validates the structured email returned by the
// completion model.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrBadJSON = errors.New("model returned invalid JSON")

// SchemaError lists every field that failed validation.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "model output failed schema validation: " + strings.Join(e.Violations, "; ")
}

type Email struct {
	Subject string `json:"subject" validate:"required,max=200"`
	Body    string `json:"body" validate:"required,min=10"`
}

var (
	validate = validator.New(validator.WithRequiredStructEnabled())

	openFence  = regexp.MustCompile("^```[a-zA-Z]*\\s*")
	closeFence = regexp.MustCompile("\\s*```$")
)

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
}

// Parse decodes raw into an Email. Surrounding code fences are tolerated.
func Parse(raw string) (Email, error) {
	text := StripFences(raw)
	if text == "" {
		return Email{}, fmt.Errorf("%w: empty response", ErrBadJSON)
	}

	var email Email
	if err := json.Unmarshal([]byte(text), &email); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Email{}, &SchemaError{Violations: []string{typeViolation(typeErr)}}
		}
		return Email{}, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}

	if err := validate.Struct(email); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Email{}, fmt.Errorf("validate email: %w", err)
		}
		violations := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			violations = append(violations, describe(fe))
		}
		return Email{}, &SchemaError{Violations: violations}
	}
	return email, nil
}

func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	text = openFence.ReplaceAllString(text, "")
	text = closeFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s: must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s: must be at least %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
	}
}

func typeViolation(err *json.UnmarshalTypeError) string {
	if err.Field == "" {
		return "response: must be a JSON object"
	}
	return err.Field + ": must be a string"
}
