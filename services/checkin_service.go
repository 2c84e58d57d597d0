package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strictHabitAPI/internal/agent"
	"strictHabitAPI/internal/cache"
	"strictHabitAPI/internal/metrics"
	"strictHabitAPI/internal/session"
	"strictHabitAPI/internal/tracing"
	"strictHabitAPI/internal/types/account"
	"strictHabitAPI/internal/types/challenge"
	"strictHabitAPI/internal/types/checkin"
)

// ErrListChallenges is the only failure that aborts a daily check.
var ErrListChallenges = errors.New("check failed, please retry")

const (
	msgNothingToCheck = "nothing to check today"
	msgNoneYet        = "no challenge is satisfied yet today"
)

// VerificationAgent is the subset of the agent client the reconciler uses.
type VerificationAgent interface {
	CheckGitHub(ctx context.Context, wallet string, challengeID uint64) (agent.CheckResult, error)
	CheckStrava(ctx context.Context, wallet string, challengeID uint64) (agent.CheckResult, error)
	ReadingStatus(ctx context.Context, wallet string, challengeID uint64) (agent.CheckResult, error)
	GitHubStatus(ctx context.Context, wallet string) (account.GitHubLink, error)
	GitHubAuthURL(wallet string) string
	StravaStatus(ctx context.Context, wallet string) (account.StravaLink, error)
	StravaAuthURL(ctx context.Context, wallet string) (string, error)
}

type activeLister interface {
	ActiveChallenges(ctx context.Context, sess session.Session) ([]challenge.Challenge, error)
}

type CheckInService struct {
	challenges  activeLister
	agent       VerificationAgent
	today       *cache.CompletedToday
	history     HistoryStore
	concurrency int
	logger      *zap.Logger
}

func NewCheckInService(challenges *ChallengeService, agent VerificationAgent, today *cache.CompletedToday, history HistoryStore, logger *zap.Logger) *CheckInService {
	return &CheckInService{
		challenges:  challenges,
		agent:       agent,
		today:       today,
		history:     history,
		concurrency: 8,
		logger:      logger,
	}
}

// SetConcurrency caps parallel agent checks within one pass.
func (s *CheckInService) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// DailyCheck asks the agent whether each active challenge is satisfied today.
// Per-challenge failures never abort the pass; only listing does.
func (s *CheckInService) DailyCheck(ctx context.Context, sess session.Session) (*checkin.Report, error) {
	report := &checkin.Report{
		RunID:    uuid.New(),
		Day:      s.today.Day(),
		TxHashes: []string{},
		Results:  []checkin.Result{},
	}
	if !sess.Connected() {
		report.NothingToCheck = true
		report.Message = msgNothingToCheck
		return report, nil
	}

	ctx, span := tracing.Start(ctx, "CheckInService.DailyCheck")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", report.RunID.String()))

	active, err := s.challenges.ActiveChallenges(ctx, sess)
	if err != nil {
		s.logger.Error("daily check could not list challenges", zap.String("wallet", sess.Wallet()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrListChallenges, err)
	}

	results := make([]checkin.Result, len(active))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, c := range active {
		g.Go(func() error {
			results[i] = s.verify(ctx, sess, c)
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	fold(report)
	span.SetAttributes(
		attribute.Int("checkin.challenges", len(results)),
		attribute.Int("checkin.succeeded", report.SucceededCount),
	)

	s.logger.Info("daily check finished",
		zap.String("run_id", report.RunID.String()),
		zap.String("wallet", sess.Wallet()),
		zap.Int("challenges", len(results)),
		zap.Int("succeeded", report.SucceededCount),
	)
	return report, nil
}

func (s *CheckInService) verify(ctx context.Context, sess session.Session, c challenge.Challenge) checkin.Result {
	wallet := sess.Wallet()
	res := checkin.Result{ChallengeID: c.ID, Category: c.Category}

	if s.today.Has(wallet, c.ID) {
		res.Outcome = checkin.OutcomeVerified
		res.ClockedIn = true
		res.Cached = true
		return res
	}

	ctx, span := tracing.Start(ctx, "CheckInService.verify")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("challenge.id", int64(c.ID)),
		attribute.String("challenge.category", string(c.Category)),
	)

	var (
		check agent.CheckResult
		err   error
	)
	switch c.Category {
	case challenge.CategoryCoding:
		check, err = s.agent.CheckGitHub(ctx, wallet, c.ID)
	case challenge.CategoryRunning:
		check, err = s.agent.CheckStrava(ctx, wallet, c.ID)
	case challenge.CategoryReading:
		check, err = s.agent.ReadingStatus(ctx, wallet, c.ID)
	default:
		res.Outcome = checkin.OutcomeSkipped
		return res
	}

	if err != nil {
		s.logger.Warn("verification request failed",
			zap.String("wallet", wallet),
			zap.Uint64("challenge_id", c.ID),
			zap.String("category", string(c.Category)),
			zap.Error(err),
		)
		res.Outcome = checkin.OutcomeCheckFailed
		metrics.CheckInResults.WithLabelValues(string(c.Category), string(res.Outcome)).Inc()
		return res
	}

	res.Message = check.Message
	switch check.State {
	case agent.CheckClockedIn:
		res.Outcome = checkin.OutcomeVerified
		res.TxHash = check.TxHash
		s.today.Mark(wallet, c.ID)
		s.record(ctx, wallet, c.ID, res)
	case agent.CheckDeclined:
		res.Outcome, res.AuthURL = s.resolveDeclined(ctx, wallet, c.Category)
	default:
		res.Outcome = checkin.OutcomeNotYetSatisfied
	}
	res.ClockedIn = res.Outcome.ClockedIn()
	metrics.CheckInResults.WithLabelValues(string(c.Category), string(res.Outcome)).Inc()
	return res
}

// resolveDeclined turns a success=false answer into needs_auth when the
// category's data source is not linked. Reading has no link to check.
func (s *CheckInService) resolveDeclined(ctx context.Context, wallet string, cat challenge.Category) (checkin.Outcome, string) {
	switch cat {
	case challenge.CategoryCoding:
		link, err := s.agent.GitHubStatus(ctx, wallet)
		if err != nil {
			s.logger.Warn("github status lookup failed", zap.String("wallet", wallet), zap.Error(err))
			return checkin.OutcomeCheckFailed, ""
		}
		if !link.Connected {
			return checkin.OutcomeNeedsAuth, s.agent.GitHubAuthURL(wallet)
		}
	case challenge.CategoryRunning:
		link, err := s.agent.StravaStatus(ctx, wallet)
		if err != nil {
			s.logger.Warn("strava status lookup failed", zap.String("wallet", wallet), zap.Error(err))
			return checkin.OutcomeCheckFailed, ""
		}
		if !link.Connected {
			authURL, err := s.agent.StravaAuthURL(ctx, wallet)
			if err != nil {
				s.logger.Warn("strava auth url lookup failed", zap.String("wallet", wallet), zap.Error(err))
			}
			return checkin.OutcomeNeedsAuth, authURL
		}
	}
	return checkin.OutcomeNotYetSatisfied, ""
}

func (s *CheckInService) record(ctx context.Context, wallet string, id uint64, res checkin.Result) {
	err := s.history.Record(ctx, checkin.HistoryEntry{
		WalletAddress: wallet,
		ChallengeID:   id,
		Day:           s.today.Day(),
		Outcome:       string(res.Outcome),
		TxHash:        res.TxHash,
		Message:       res.Message,
	})
	if err != nil {
		s.logger.Error("failed to record check-in", zap.String("wallet", wallet), zap.Uint64("challenge_id", id), zap.Error(err))
	}
}

func fold(r *checkin.Report) {
	queried, unauthenticated := 0, 0
	for _, res := range r.Results {
		if res.ClockedIn {
			r.AnyClockedIn = true
		}
		if res.Cached || res.Outcome == checkin.OutcomeSkipped {
			continue
		}
		queried++
		switch res.Outcome {
		case checkin.OutcomeVerified:
			r.SucceededCount++
			if res.TxHash != "" {
				r.TxHashes = append(r.TxHashes, res.TxHash)
			}
		case checkin.OutcomeNeedsAuth:
			unauthenticated++
		}
	}

	switch {
	case queried == 0 || queried == unauthenticated:
		r.NothingToCheck = true
		r.Message = msgNothingToCheck
	case r.SucceededCount > 0:
		r.Message = fmt.Sprintf("%d challenge(s) clocked in", r.SucceededCount)
	default:
		r.Message = msgNoneYet
	}
}

// Status returns the challenges already confirmed today without querying.
func (s *CheckInService) Status(_ context.Context, sess session.Session) checkin.TodayStatus {
	day, ids := s.today.Snapshot(sess.Wallet())
	return checkin.TodayStatus{Day: day, ChallengeIDs: ids}
}

func (s *CheckInService) History(ctx context.Context, sess session.Session, limit int) ([]checkin.HistoryEntry, error) {
	if !sess.Connected() {
		return []checkin.HistoryEntry{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.history.List(ctx, sess.Wallet(), limit)
}
