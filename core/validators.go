package core

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/locales/es"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	es_translations "github.com/go-playground/validator/v10/translations/es"
	"github.com/pkg/errors"
)

const DateLayout = "2006-01-02"

var (
	// custom validation tags & texts
	dateTag  = "fecha"
	dateText = "debe ser una fecha válida con formato AAAA-MM-DD"

	rutTag   = "rut"
	rutText  = "RUT inválido (ej: 12.345.678-5)"
	rutRegex = regexp.MustCompile(`^[0-9]{1,8}[0-9Kk]$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "este campo es obligatorio"

	errInvalidData = errors.New("Datos inválidos")
)

// NewTranslator returns the Spanish translator used for every user-facing validation message.
func NewTranslator() ut.Translator {
	_es := es.New()
	uni := ut.New(_es, _es)
	translator, _ := uni.GetTranslator("es")
	return translator
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = es_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(dateTag, dateValidation)
	RegisterCustomTranslation(validate, translator, dateTag, dateText)

	_ = validate.RegisterValidation(rutTag, rutValidation)
	RegisterCustomTranslation(validate, translator, rutTag, rutText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// ValidateStruct validates `s` and converts validator errors into a *ValidationError with translated messages.
func ValidateStruct(validate *validator.Validate, translator ut.Translator, s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return errors.Wrap(err, "validating struct")
	}
	flds := make([]FieldError, 0, len(vErrs))
	for _, vErr := range vErrs {
		flds = append(flds, FieldError{Field: vErr.Field(), Error: vErr.Translate(translator)})
	}
	return NewValidationError(errInvalidData, flds...)
}

// IsDate reports whether s is a YYYY-MM-DD calendar date.
func IsDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// ValidRUT checks a Chilean RUT ("12.345.678-5", "12345678-5" or "123456785") against its check digit.
func ValidRUT(rut string) bool {
	clean := strings.NewReplacer(".", "", "-", "", " ", "").Replace(strings.TrimSpace(rut))
	if !rutRegex.MatchString(clean) {
		return false
	}
	body, dv := clean[:len(clean)-1], strings.ToUpper(clean[len(clean)-1:])

	num, err := strconv.Atoi(body)
	if err != nil || num == 0 {
		return false
	}
	sum, mul := 0, 2
	for ; num > 0; num /= 10 {
		sum += (num % 10) * mul
		mul++
		if mul > 7 {
			mul = 2
		}
	}
	var want string
	switch rest := 11 - sum%11; rest {
	case 11:
		want = "0"
	case 10:
		want = "K"
	default:
		want = strconv.Itoa(rest)
	}
	return dv == want
}

// Custom Global Validators

func dateValidation(fl validator.FieldLevel) bool {
	return IsDate(fl.Field().String())
}

func rutValidation(fl validator.FieldLevel) bool {
	return ValidRUT(fl.Field().String())
}
