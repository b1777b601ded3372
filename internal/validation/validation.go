package validation

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/visionboard/usermanagement/internal/model"
)

var (
	emailRegex        = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	nameRegex         = regexp.MustCompile(`^[a-zA-Z\s'-]+$`)
	passwordCharRegex = regexp.MustCompile(`^[A-Za-z\d@$!%*?&]+$`)
)

const passwordSpecials = "@$!%*?&"

// Messages returned for each rule, keyed by JSON field name and tag.
var messages = map[string]map[string]string{
	"email": {
		"required":    "Email is required",
		"min":         "Email must be 5-255 characters",
		"max":         "Email must be 5-255 characters",
		"emailformat": "Invalid email format",
	},
	"password": {
		"required": "Password is required",
		"min":      "Password must be 8-128 characters",
		"max":      "Password must be 8-128 characters",
		"password": "Password must contain uppercase, lowercase, number, and special character",
	},
	"firstName": {
		"required":   "First name is required",
		"min":        "First name must be 2-50 characters",
		"max":        "First name must be 2-50 characters",
		"personname": "First name can only contain letters, spaces, hyphens, and apostrophes",
	},
	"lastName": {
		"required":   "Last name is required",
		"min":        "Last name must be 2-50 characters",
		"max":        "Last name must be 2-50 characters",
		"personname": "Last name can only contain letters, spaces, hyphens, and apostrophes",
	},
}

// Validator checks request bodies against their `validate` tags.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator with the custom rules used by request bodies.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration of static rules cannot fail.
	_ = v.RegisterValidation("emailformat", func(fl validator.FieldLevel) bool {
		return emailRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		return nameRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return IsStrongPassword(fl.Field().String())
	})
	return &Validator{v: v}
}

// IsStrongPassword requires at least one lowercase letter, one uppercase
// letter, one digit and one of @$!%*?&, with no other characters.
func IsStrongPassword(password string) bool {
	if len(password) < 8 || !passwordCharRegex.MatchString(password) {
		return false
	}
	var lower, upper, digit, special bool
	for _, c := range password {
		switch {
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= '0' && c <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, c):
			special = true
		}
	}
	return lower && upper && digit && special
}

// ValidateRegistration returns one FieldError per failing field, or nil if
// the request is well formed.
func (val *Validator) ValidateRegistration(req *model.RegistrationRequest) []model.FieldError {
	return val.validate(req)
}

func (val *Validator) validate(s interface{}) []model.FieldError {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []model.FieldError{{Message: err.Error()}}
	}

	var fieldErrors []model.FieldError
	for _, fe := range verrs {
		fieldErrors = append(fieldErrors, model.FieldError{
			Field:   fe.Field(),
			Message: message(fe.Field(), fe.Tag()),
		})
	}
	return fieldErrors
}

func message(field, tag string) string {
	if msg, ok := messages[field][tag]; ok {
		return msg
	}
	return "Invalid value"
}
