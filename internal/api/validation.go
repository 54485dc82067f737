package api

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// languagePattern accepts "auto" or a BCP-47-ish tag such as "en",
// "pt-BR" or "zh-Hant".
var languagePattern = regexp.MustCompile(`^(auto|[a-z]{2,3}(-[A-Za-z0-9]{2,8})*)$`)

// RegisterValidations installs the custom binding validators. Call once
// before serving requests.
func RegisterValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("langtag", func(fl validator.FieldLevel) bool {
		return languagePattern.MatchString(fl.Field().String())
	})
}
