package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"strictHabitAPI/internal/session"
	"strictHabitAPI/internal/types/challenge"
	"strictHabitAPI/middleware"
	"strictHabitAPI/services"
)

// Writes wait for the receipt, so they get far more time than reads.
const (
	readTimeout  = 10 * time.Second
	writeTimeout = 3 * time.Minute
)

type ChallengeHandler struct {
	challengeService *services.ChallengeService
}

func NewChallengeHandler(challengeService *services.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{
		challengeService: challengeService,
	}
}

func (h *ChallengeHandler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	sess, ok := middleware.GetSession(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Wallet not connected")
		return
	}

	list, err := h.challengeService.List(ctx, sess)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, list)
}

func (h *ChallengeHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
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

	detail, err := h.challengeService.GetChallenge(ctx, sess, id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, detail)
}

func (h *ChallengeHandler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	sess, ok := middleware.GetSession(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Wallet not connected")
		return
	}

	var req challenge.CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.challengeService.CreateChallenge(ctx, sess, req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, res)
}

func (h *ChallengeHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.challengeService.ClaimReward)
}

func (h *ChallengeHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.challengeService.EmergencyWithdraw)
}

func (h *ChallengeHandler) UseResurrection(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.challengeService.UseResurrection)
}

type lifecycleAction func(ctx context.Context, sess session.Session, id uint64) (*challenge.TxResult, error)

func (h *ChallengeHandler) lifecycle(w http.ResponseWriter, r *http.Request, action lifecycleAction) {
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
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

	res, err := action(ctx, sess, id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}

func (h *ChallengeHandler) EstimateReward(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	stake := r.URL.Query().Get("stake")
	days, err := strconv.ParseUint(r.URL.Query().Get("days"), 10, 64)
	if stake == "" || err != nil {
		respondWithError(w, http.StatusBadRequest, "Query parameters 'stake' and 'days' are required")
		return
	}

	est, err := h.challengeService.EstimateReward(ctx, stake, days)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, est)
}

func (h *ChallengeHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	sess, ok := middleware.GetSession(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Wallet not connected")
		return
	}

	d, err := h.challengeService.Dashboard(ctx, sess)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, d)
}
