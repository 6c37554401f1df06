package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/estimator/internal/admission"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorBody{Error: code, Message: msg})
}

// respondRejection writes a gate rejection. Anything that is not a
// Rejection is an internal error and its text is not exposed.
func respondRejection(w http.ResponseWriter, err error) {
	var rej *admission.Rejection
	if !errors.As(err, &rej) {
		zap.L().Error("api: admission failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if rej.Allow != "" {
		w.Header().Set("Allow", rej.Allow)
	}
	if rej.RetryAfter > 0 {
		secs := int(math.Ceil(rej.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	respondJSON(w, rej.Status, rej)
}
