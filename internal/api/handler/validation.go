package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Rrens/postbot/internal/api/response"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the error response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	// an empty body leaves the zero value
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "invalid request body")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			response.BadRequest(w, err.Error())
			return false
		}
		fields := make(map[string]string)
		for _, e := range validationErrors {
			switch e.Tag() {
			case "required":
				fields[e.Field()] = "field is required"
			case "min":
				fields[e.Field()] = "must be at least " + e.Param()
			case "max":
				fields[e.Field()] = "must be at most " + e.Param()
			default:
				fields[e.Field()] = "validation failed on " + e.Tag()
			}
		}
		response.BadRequest(w, fields)
		return false
	}
	return true
}
