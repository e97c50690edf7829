package account

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
)

// newValidator returns a validator that reports json field names and knows
// the account-specific tags.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register validation tag %q: %v", tag, err))
		}
	}
	mustRegister("strongpassword", validateStrongPassword)
	mustRegister("role", validateRole)
	return v
}

// bcrypt.GenerateFromPassword rejects longer input.
const maxPasswordBytes = 72

// validateStrongPassword requires 8 characters to 72 bytes with an upper case
// letter, a lower case letter, a digit and a symbol.
func validateStrongPassword(fl validator.FieldLevel) bool {
	pw := fl.Field().String()
	if len([]rune(pw)) < 8 || len(pw) > maxPasswordBytes {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, c := range pw {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c) || c == ' ':
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

func validateRole(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return v == "" || entity.Role(v).Valid()
}

// validateStruct runs the validator and maps the first failure to a sentinel:
// email format and password strength get their own kinds, the rest is ErrValidation.
func validateStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "email":
			return ErrInvalidEmailFormat
		case "strongpassword":
			return ErrWeakPassword
		}
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "role":
		return fmt.Sprintf("%s must be one of user, admin, company", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
}
