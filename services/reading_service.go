package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"strictHabitAPI/internal/agent"
	"strictHabitAPI/internal/cache"
	"strictHabitAPI/internal/metrics"
	"strictHabitAPI/internal/session"
	"strictHabitAPI/internal/tracing"
	"strictHabitAPI/internal/types/challenge"
	"strictHabitAPI/internal/types/checkin"
)

var (
	ErrEmptyNote           = errors.New("reading note is empty")
	ErrNotReadingChallenge = errors.New("challenge is not a reading challenge")
	ErrSubmissionInFlight  = errors.New("a submission for this challenge is already in progress")
	ErrSubmissionFailed    = errors.New("submission failed, network or server error")
)

// SuggestedNoteRunes is the length below which a note is flagged as probably
// too short. The agent makes the actual call.
const SuggestedNoteRunes = 10

type ReadingReviewer interface {
	SubmitReading(ctx context.Context, wallet string, challengeID uint64, content string) (agent.ReadingResult, error)
}

type challengeGetter interface {
	Challenge(ctx context.Context, sess session.Session, id uint64) (challenge.Challenge, error)
}

type inflightKey struct {
	wallet string
	id     uint64
}

type ReadingService struct {
	challenges challengeGetter
	reviewer   ReadingReviewer
	today      *cache.CompletedToday
	history    HistoryStore
	logger     *zap.Logger

	mu       sync.Mutex
	inflight map[inflightKey]struct{}
}

func NewReadingService(challenges *ChallengeService, reviewer ReadingReviewer, today *cache.CompletedToday, history HistoryStore, logger *zap.Logger) *ReadingService {
	return &ReadingService{
		challenges: challenges,
		reviewer:   reviewer,
		today:      today,
		history:    history,
		logger:     logger,
		inflight:   make(map[inflightKey]struct{}),
	}
}

// SubmitNote sends a reading reflection for review. A rejection is a verdict,
// not an error; only transport problems return ErrSubmissionFailed.
func (s *ReadingService) SubmitNote(ctx context.Context, sess session.Session, challengeID uint64, content string) (*checkin.ReadingVerdict, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyNote
	}
	if !sess.Connected() {
		return nil, ErrNotConnected
	}

	key := inflightKey{strings.ToLower(sess.Wallet()), challengeID}
	if !s.acquire(key) {
		return nil, ErrSubmissionInFlight
	}
	defer s.release(key)

	ctx, span := tracing.Start(ctx, "ReadingService.SubmitNote")
	defer span.End()
	span.SetAttributes(attribute.Int64("challenge.id", int64(challengeID)))

	c, err := s.challenges.Challenge(ctx, sess, challengeID)
	if err != nil {
		return nil, err
	}
	if c.Category != challenge.CategoryReading {
		return nil, fmt.Errorf("%w: challenge %d is %s", ErrNotReadingChallenge, challengeID, c.Category)
	}

	res, err := s.reviewer.SubmitReading(ctx, sess.Wallet(), challengeID, content)
	if err != nil {
		s.logger.Warn("reading submission failed",
			zap.String("wallet", sess.Wallet()), zap.Uint64("challenge_id", challengeID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	verdict := &checkin.ReadingVerdict{
		ChallengeID:          challengeID,
		Verdict:              checkin.VerdictRejected,
		Message:              res.Message,
		BelowSuggestedLength: utf8.RuneCountInString(content) < SuggestedNoteRunes,
	}
	if res.Accepted {
		verdict.Verdict = checkin.VerdictApproved
		verdict.TxHash = res.TxHash
		s.today.Mark(sess.Wallet(), challengeID)
	}
	metrics.ReadingVerdicts.WithLabelValues(string(verdict.Verdict)).Inc()
	span.SetAttributes(attribute.String("reading.verdict", string(verdict.Verdict)))

	err = s.history.Record(ctx, checkin.HistoryEntry{
		WalletAddress: sess.Wallet(),
		ChallengeID:   challengeID,
		Day:           s.today.Day(),
		Outcome:       string(verdict.Verdict),
		TxHash:        verdict.TxHash,
		Message:       verdict.Message,
	})
	if err != nil {
		s.logger.Error("failed to record reading verdict", zap.Uint64("challenge_id", challengeID), zap.Error(err))
	}
	return verdict, nil
}

func (s *ReadingService) acquire(k inflightKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[k]; busy {
		return false
	}
	s.inflight[k] = struct{}{}
	return true
}

func (s *ReadingService) release(k inflightKey) {
	s.mu.Lock()
	delete(s.inflight, k)
	s.mu.Unlock()
}
