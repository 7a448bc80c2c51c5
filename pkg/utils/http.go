package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// WriteJSONResponse writes data as an uncached JSON response. Encoding
// failures happen after the status line is sent, so they are only logged.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Warn("Failed to encode JSON response", zap.Error(err))
	}
}
