package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/iudanet/scorekeeper/pkg/api"
)

// writeError пишет ответ в формате api.ErrorResponse
func writeError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: code, Message: message})
}
