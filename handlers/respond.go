package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"strictHabitAPI/internal/agent"
	"strictHabitAPI/internal/chain"
	"strictHabitAPI/services"
)

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps service sentinels to a status and passes the
// error text through; transaction failures are shown as the chain reported them.
func respondWithServiceError(w http.ResponseWriter, err error) {
	respondWithError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, services.ErrEmptyNote),
		errors.Is(err, services.ErrNotReadingChallenge):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrSignerMismatch),
		errors.Is(err, services.ErrWritesDisabled):
		return http.StatusForbidden
	case errors.Is(err, services.ErrChallengeAbsent):
		return http.StatusNotFound
	case errors.Is(err, services.ErrSubmissionInFlight),
		errors.Is(err, chain.ErrReverted):
		return http.StatusConflict
	case errors.Is(err, services.ErrTooManyToList):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrSubmissionFailed),
		errors.Is(err, services.ErrListChallenges),
		errors.Is(err, agent.ErrAgentStatus):
		return http.StatusBadGateway
	}
	return http.StatusBadGateway
}

func challengeID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}
