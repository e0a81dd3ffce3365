package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var knownEnvironments = map[string]bool{
	"local": true, "debugging": true, "staging": true, "production": true,
}

var knownSources = map[string]bool{
	"OPEN_LIBRARY": true, "GUTENBERG": true, "STANDARD_EBOOKS": true, "MANUAL_UPLOAD": true,
}

func init() {
	_ = validate.RegisterValidation("environment", func(fl validator.FieldLevel) bool {
		return knownEnvironments[fl.Field().String()]
	})
	_ = validate.RegisterValidation("book_source", func(fl validator.FieldLevel) bool {
		return knownSources[fl.Field().String()]
	})
}

// ValidateStruct runs the struct tags of s and returns one detail per
// failing field.
func ValidateStruct(s any) []ErrorDetail {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ErrorDetail{{Field: "", Message: err.Error()}}
	}

	details := make([]ErrorDetail, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		var message string
		switch fe.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", field)
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", field, fe.Param())
		case "environment":
			message = fmt.Sprintf("%s must be one of local, debugging, staging, production", field)
		case "book_source":
			message = fmt.Sprintf("%s must be one of OPEN_LIBRARY, GUTENBERG, STANDARD_EBOOKS, MANUAL_UPLOAD", field)
		case "oneof":
			message = fmt.Sprintf("%s must be one of %s", field, fe.Param())
		default:
			message = fmt.Sprintf("%s is invalid", field)
		}
		details = append(details, ErrorDetail{Field: field, Message: message})
	}
	return details
}

// DecodeAndValidate reads a JSON body into dst and validates it. It writes
// the error response itself and reports false when the request is unusable.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return false
	}
	if details := ValidateStruct(dst); len(details) > 0 {
		JSONError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "request validation failed", details)
		return false
	}
	return true
}
