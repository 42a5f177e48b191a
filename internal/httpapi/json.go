package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// writeJSON writes v with the given status code. Encoding happens before the
// header is sent so a failure can still become a 500.
func writeJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, errCode string, err error) {
	writeJSON(w, code, errorBody{Error: errCode, Message: err.Error()})
}
