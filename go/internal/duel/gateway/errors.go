package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/duel"
)

// ErrorResponse is the JSON body of failed requests.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps duel error kinds to HTTP status codes.
func statusFor(kind duel.Kind) int {
	switch kind {
	case duel.KindRoomNotFound:
		return http.StatusNotFound
	case duel.KindRoomFull, duel.KindMatchNotActive, duel.KindAlreadyDecided:
		return http.StatusConflict
	case duel.KindExternalServiceFailure, duel.KindTransportUnavailable:
		return http.StatusServiceUnavailable
	case duel.KindNotParticipant:
		return http.StatusForbidden
	case duel.KindInvalidArgument:
		return http.StatusBadRequest
	case duel.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	var de *duel.Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return "internal error"
}

func writeError(w http.ResponseWriter, err error) {
	kind := duel.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}

	var de *duel.Error
	retryable := errors.As(err, &de) && de.Retryable()
	writeJSON(w, status, ErrorResponse{
		Error:     string(kind),
		Message:   errorMessage(err),
		Retryable: retryable,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
