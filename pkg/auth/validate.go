package auth

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var usernameRegex = regexp.MustCompile("^[a-zA-Z0-9_.]+$")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return ValidateUsername(fl.Field().String())
	})

	return v
}

// ValidateUsername reports whether username may be used as a profile name.
func ValidateUsername(username string) bool {
	return len(username) > 2 && len(username) < 31 && usernameRegex.MatchString(username)
}

// Validate checks a request struct.
func Validate(req interface{}) error {
	return validate.Struct(req)
}
