package admission

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"brandgen/internal/domain"
)

// MaxPayloadBytes caps the raw request payload.
const MaxPayloadBytes = 16 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePayload decodes and checks a payload for the task type. Every
// failure is a *domain.ValidationError.
func ValidatePayload(t domain.TaskType, raw []byte) (domain.Payload, error) {
	if !t.Valid() {
		return nil, domain.Invalid("taskType", fmt.Sprintf("unknown task type %q", t))
	}
	if len(raw) > MaxPayloadBytes {
		return nil, domain.Invalid("payload", fmt.Sprintf("exceeds %d bytes", MaxPayloadBytes))
	}
	p, err := domain.DecodePayload(t, raw)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, domain.Invalid(fieldPath(fe.Namespace()), describe(fe))
		}
		return nil, domain.Invalid("payload", err.Error())
	}
	if _, err := language.Parse(p.LocaleTag()); err != nil {
		return nil, domain.Invalid("locale", fmt.Sprintf("%q is not a BCP 47 tag", p.LocaleTag()))
	}
	return p, nil
}

// fieldPath drops the struct name the validator prefixes namespaces with.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "max":
		return fmt.Sprintf("fails %s=%s", fe.Tag(), fe.Param())
	}
	return "fails " + fe.Tag()
}
