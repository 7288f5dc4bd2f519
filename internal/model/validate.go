package model

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var awsAccountRegex = regexp.MustCompile(`^[0-9]{12}$`)

func init() {
	validate.RegisterValidation("awsaccount", func(fl validator.FieldLevel) bool {
		return awsAccountRegex.MatchString(fl.Field().String())
	})
}

// Validate checks struct tags on messages and requests.
func Validate(v any) error {
	return validate.Struct(v)
}

// IsAWSAccountID reports whether s is a 12 digit AWS account id.
func IsAWSAccountID(s string) bool {
	return awsAccountRegex.MatchString(s)
}
