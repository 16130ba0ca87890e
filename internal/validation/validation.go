// Package validation provides input validation for rule store and config input.
package validation

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// engine returns the shared struct validator.
func engine() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// RegisterPattern adds a struct tag that requires a string field to match re.
// Empty strings pass; combine with "required" when needed.
func RegisterPattern(tag string, re *regexp.Regexp) error {
	return engine().RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || re.MatchString(s)
	})
}

// SanitizeString removes dangerous characters and limits length.
// A non-positive maxLen means MaxStringLength.
func SanitizeString(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxStringLength
	}
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length, cutting on a rune boundary
	if len(s) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Struct validates s against its `validate` struct tags.
// Returns nil or ValidationErrors.
func Struct(s any) error {
	err := engine().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "exceeds maximum of " + fe.Param()
	case "min":
		return "below minimum of " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
