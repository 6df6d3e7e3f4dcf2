package httpx

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationProblem renders request validation failures as a 400 problem.
// Field errors from the validator are flattened into the detail string.
func ValidationProblem(w http.ResponseWriter, err error) {
	var detail string
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			parts = append(parts, fmt.Sprintf("field '%s' failed on '%s'", fe.Field(), fe.Tag()))
		}
		detail = strings.Join(parts, "; ")
	} else {
		detail = err.Error()
	}
	Problem(w, http.StatusBadRequest, "Validation Failed", detail)
}
