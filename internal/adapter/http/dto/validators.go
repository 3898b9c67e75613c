package dto

import (
	"net/url"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators installs the custom binding validators. Call once at
// startup before the router handles traffic.
func RegisterValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("safe_url", validateSafeURL) //nolint:errcheck
	}
}

// validateSafeURL accepts absolute http(s) URLs without embedded credentials.
// Webhook targets are the main consumer; a merchant must not be able to
// smuggle userinfo or a non-HTTP scheme into an outbound request.
func validateSafeURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" || u.User != nil {
		return false
	}
	return !strings.ContainsAny(raw, " \t\r\n")
}
