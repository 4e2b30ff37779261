// Package httputil centralizes JSON response envelopes so every handler
// returns the same error shape.
package httputil

import (
	"encoding/json"
	"net/http"

	derrors "idrelay/pkg/domain-errors"
)

var statusByCode = map[derrors.Code]int{
	derrors.CodeBadRequest:   http.StatusBadRequest,
	derrors.CodeUnauthorized: http.StatusUnauthorized,
	derrors.CodeNotFound:     http.StatusNotFound,
	derrors.CodeConflict:     http.StatusConflict,
	derrors.CodeInvalidState: http.StatusConflict,
	derrors.CodeInternal:     http.StatusInternalServerError,
}

// WriteError translates a domain error into a JSON error envelope. Internal
// errors omit the description so infrastructure details never leak to
// clients.
func WriteError(w http.ResponseWriter, err error) {
	code := derrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := map[string]string{"error": string(code)}
	if code != derrors.CodeInternal {
		if msg := derrors.MessageOf(err); msg != "" {
			body["error_description"] = msg
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
