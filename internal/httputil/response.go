package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/visionboard/usermanagement/internal/model"
)

// WriteJSON encodes payload as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b)))
	w.WriteHeader(status)
	w.Write(b)
}

// WriteError writes a standard error body.
func WriteError(w http.ResponseWriter, status int, code, message string, details ...model.FieldError) {
	WriteJSON(w, status, model.NewErrorResponse(code, message, details...))
}

// WriteInternalError writes the generic 500 body. Callers log the cause.
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, model.ErrorCodeInternal, model.InternalErrorMessage)
}
