package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"strictHabitAPI/internal/types/checkin"
	"strictHabitAPI/middleware"
	"strictHabitAPI/services"
)

type CheckInHandler struct {
	checkInService *services.CheckInService
	readingService *services.ReadingService
}

func NewCheckInHandler(checkInService *services.CheckInService, readingService *services.ReadingService) *CheckInHandler {
	return &CheckInHandler{
		checkInService: checkInService,
		readingService: readingService,
	}
}

// Sync runs the daily verification pass for the caller's active challenges.
func (h *CheckInHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 45*time.Second)
	defer cancel()

	sess, ok := middleware.GetSession(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Wallet not connected")
		return
	}

	report, err := h.checkInService.DailyCheck(ctx, sess)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, report)
}

func (h *CheckInHandler) Today(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Wallet not connected")
		return
	}

	respondWithJSON(w, http.StatusOK, h.checkInService.Status(r.Context(), sess))
}

func (h *CheckInHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, ok := middleware.GetSession(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Wallet not connected")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.checkInService.History(ctx, sess, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load check-in history")
		return
	}

	respondWithJSON(w, http.StatusOK, entries)
}

func (h *CheckInHandler) SubmitReadingNote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
	defer cancel()

	sess, ok := middleware.GetSession(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Wallet not connected")
		return
	}

	id, ok := challengeID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	var req checkin.ReadingNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	verdict, err := h.readingService.SubmitNote(ctx, sess, id, req.Content)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, verdict)
}
