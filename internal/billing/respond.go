package billing

import (
	"encoding/json"
	"net/http"
)

// WriteJSON is the shared response writer for the webhook handlers.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
