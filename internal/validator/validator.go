package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/id"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	id_translations "github.com/go-playground/validator/v10/translations/id"

	"github.com/stemsi/cbt-backend/internal/i18n"
)

// uni holds the en and id translators for validation errors.
var uni *ut.UniversalTranslator

// Setup registers the validator with English and Indonesian translations on
// Gin's binding engine. Call once during application startup.
func Setup() {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}

	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni = ut.New(enLocale, enLocale, id.New())

	enTrans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, enTrans)
	idTrans, _ := uni.GetTranslator("id")
	_ = id_translations.RegisterDefaultTranslations(v, idTrans)
}

func translator(lang string) ut.Translator {
	if uni == nil {
		return nil
	}
	trans, _ := uni.GetTranslator(lang)
	return trans
}

// Struct validates v with the binding rules outside of a request. It returns
// nil when v is valid, otherwise the field messages in lang.
func Struct(v any, lang string) map[string]string {
	if err := binding.Validator.ValidateStruct(v); err != nil {
		return TranslateErrors(err, lang)
	}
	return nil
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name to human-readable message in lang. Non-validation errors come
// back under the "detail" key.
func TranslateErrors(err error, lang string) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		trans := translator(lang)
		for _, fe := range ve {
			if trans == nil {
				fields[fe.Field()] = fe.Error()
				continue
			}
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err, i18n.Match(c.GetHeader("Accept-Language")))
	}
	return nil
}

// BindQuery binds and validates query parameters into dst.
func BindQuery(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindQuery(dst); err != nil {
		return TranslateErrors(err, i18n.Match(c.GetHeader("Accept-Language")))
	}
	return nil
}
