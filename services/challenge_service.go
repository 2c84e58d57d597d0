package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strictHabitAPI/internal/cache"
	"strictHabitAPI/internal/metrics"
	"strictHabitAPI/internal/session"
	"strictHabitAPI/internal/tracing"
	"strictHabitAPI/internal/types/calendar"
	"strictHabitAPI/internal/types/challenge"
	"strictHabitAPI/utils"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNotConnected    = errors.New("wallet not connected")
	ErrSignerMismatch  = errors.New("session wallet is not the configured signer")
	ErrWritesDisabled  = errors.New("no signing key configured")
	ErrTooManyToList   = errors.New("challenge count exceeds listing limit")
	ErrChallengeAbsent = errors.New("challenge not found")
)

// MaxChallengesPerWallet bounds a single aggregation.
const MaxChallengesPerWallet = 4096

const maxDescriptionRunes = 200

type ChallengeReader interface {
	ChallengeCount(ctx context.Context, user common.Address) (uint64, error)
	GetChallenge(ctx context.Context, user common.Address, id uint64) (challenge.Challenge, error)
}

type RewardReader interface {
	CalculateReward(ctx context.Context, stake *big.Int, targetDays uint64) (*big.Int, error)
	RewardPoolBalance(ctx context.Context) (*big.Int, error)
	TokenBalance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenMeta(ctx context.Context) (challenge.TokenMeta, error)
}

type ChallengeWriter interface {
	Signer() (common.Address, bool)
	CreateChallenge(ctx context.Context, p challenge.CreateParams, description string) (uint64, string, error)
	ClaimReward(ctx context.Context, id uint64) (string, error)
	EmergencyWithdraw(ctx context.Context, id uint64) (string, error)
	UseResurrection(ctx context.Context, id uint64) (string, error)
}

// EscrowChain is everything the service needs from the escrow contract.
type EscrowChain interface {
	ChallengeReader
	RewardReader
	ChallengeWriter
}

type ChallengeService struct {
	chain       EscrowChain
	history     HistoryStore
	today       *cache.CompletedToday
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

func NewChallengeService(chain EscrowChain, history HistoryStore, today *cache.CompletedToday, logger *zap.Logger) *ChallengeService {
	return &ChallengeService{
		chain:       chain,
		history:     history,
		today:       today,
		concurrency: 8,
		logger:      logger,
		now:         time.Now,
	}
}

// SetConcurrency caps parallel getChallenge reads.
func (s *ChallengeService) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// ListChallenges reads every challenge of the session wallet in id order. A
// failed read of one index is logged and that index is left out.
func (s *ChallengeService) ListChallenges(ctx context.Context, sess session.Session) ([]challenge.Challenge, uint64, error) {
	if !sess.Connected() {
		return []challenge.Challenge{}, 0, nil
	}

	ctx, span := tracing.Start(ctx, "ChallengeService.ListChallenges")
	defer span.End()

	count, err := s.chain.ChallengeCount(ctx, sess.Address)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("failed to read challenge count: %w", err)
	}
	span.SetAttributes(attribute.Int64("challenge.count", int64(count)))
	if count == 0 {
		return []challenge.Challenge{}, 0, nil
	}
	if count > MaxChallengesPerWallet {
		return nil, count, fmt.Errorf("%w: %d", ErrTooManyToList, count)
	}

	categories := s.categories(ctx, sess.Wallet())

	slots := make([]*challenge.Challenge, count)
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := uint64(0); i < count; i++ {
		g.Go(func() error {
			c, err := s.chain.GetChallenge(ctx, sess.Address, i)
			if err != nil {
				metrics.ChallengeReadFailures.Inc()
				s.logger.Warn("challenge read failed, omitting",
					zap.String("wallet", sess.Wallet()),
					zap.Uint64("challenge_id", i),
					zap.Error(err),
				)
				return nil
			}
			c.ID = i
			applyCategory(&c, categories)
			slots[i] = &c
			return nil
		})
	}
	_ = g.Wait()

	out := make([]challenge.Challenge, 0, count)
	for _, c := range slots {
		if c != nil {
			out = append(out, *c)
		}
	}
	span.SetAttributes(attribute.Int("challenge.omitted", len(slots)-len(out)))
	return out, count, nil
}

func (s *ChallengeService) List(ctx context.Context, sess session.Session) (*challenge.ChallengeList, error) {
	all, count, err := s.ListChallenges(ctx, sess)
	if err != nil {
		return nil, err
	}
	active, terminal := challenge.Partition(all)
	return &challenge.ChallengeList{
		Address:   sess.Wallet(),
		Count:     count,
		Active:    active,
		Completed: terminal,
	}, nil
}

// ActiveChallenges is the Active subset of ListChallenges.
func (s *ChallengeService) ActiveChallenges(ctx context.Context, sess session.Session) ([]challenge.Challenge, error) {
	all, _, err := s.ListChallenges(ctx, sess)
	if err != nil {
		return nil, err
	}
	active, _ := challenge.Partition(all)
	return active, nil
}

type ChallengeDetail struct {
	Challenge      challenge.Challenge `json:"challenge"`
	Progress       calendar.Progress   `json:"progress"`
	ClockedInToday bool                `json:"clocked_in_today"`
}

func (s *ChallengeService) GetChallenge(ctx context.Context, sess session.Session, id uint64) (*ChallengeDetail, error) {
	c, err := s.Challenge(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	return &ChallengeDetail{
		Challenge:      c,
		Progress:       utils.ComputeProgress(c, s.now(), s.today.Location()),
		ClockedInToday: s.today.Has(sess.Wallet(), id),
	}, nil
}

// Challenge reads a single challenge with its category resolved.
func (s *ChallengeService) Challenge(ctx context.Context, sess session.Session, id uint64) (challenge.Challenge, error) {
	if !sess.Connected() {
		return challenge.Challenge{}, ErrNotConnected
	}
	count, err := s.chain.ChallengeCount(ctx, sess.Address)
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("failed to read challenge count: %w", err)
	}
	if id >= count {
		return challenge.Challenge{}, fmt.Errorf("%w: %d", ErrChallengeAbsent, id)
	}
	c, err := s.chain.GetChallenge(ctx, sess.Address, id)
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("failed to read challenge %d: %w", id, err)
	}
	c.ID = id
	applyCategory(&c, s.categories(ctx, sess.Wallet()))
	return c, nil
}

type Dashboard struct {
	Address         string                `json:"address"`
	Count           uint64                `json:"count"`
	Active          []challenge.Challenge `json:"active"`
	Completed       []challenge.Challenge `json:"completed"`
	TotalStakedWei  string                `json:"total_staked_wei"`
	TokenBalanceWei string                `json:"token_balance_wei,omitempty"`
	TokenBalance    string                `json:"token_balance,omitempty"`
	TokenSymbol     string                `json:"token_symbol,omitempty"`
	TokenDecimals   uint8                 `json:"token_decimals,omitempty"`
	RewardPoolWei   string                `json:"reward_pool_wei,omitempty"`
	Day             string                `json:"day"`
	CompletedToday  []uint64              `json:"completed_today"`
}

func (s *ChallengeService) Dashboard(ctx context.Context, sess session.Session) (*Dashboard, error) {
	list, err := s.List(ctx, sess)
	if err != nil {
		return nil, err
	}

	staked := new(big.Int)
	for _, c := range list.Active {
		if c.StakeAmount != nil {
			staked.Add(staked, c.StakeAmount)
		}
	}

	day, done := s.today.Snapshot(sess.Wallet())
	d := &Dashboard{
		Address:        list.Address,
		Count:          list.Count,
		Active:         list.Active,
		Completed:      list.Completed,
		TotalStakedWei: staked.String(),
		Day:            day,
		CompletedToday: done,
	}

	meta, metaErr := s.chain.TokenMeta(ctx)
	if metaErr != nil {
		s.logger.Warn("token metadata read failed", zap.Error(metaErr))
	} else {
		d.TokenSymbol = meta.Symbol
		d.TokenDecimals = meta.Decimals
	}

	if sess.Connected() {
		if bal, err := s.chain.TokenBalance(ctx, sess.Address); err != nil {
			s.logger.Warn("token balance read failed", zap.String("wallet", sess.Wallet()), zap.Error(err))
		} else {
			d.TokenBalanceWei = bal.String()
			if metaErr == nil {
				d.TokenBalance = utils.FormatUnits(bal, meta.Decimals)
			}
		}
	}
	if pool, err := s.chain.RewardPoolBalance(ctx); err != nil {
		s.logger.Warn("reward pool read failed", zap.Error(err))
	} else {
		d.RewardPoolWei = pool.String()
	}
	return d, nil
}

func (s *ChallengeService) EstimateReward(ctx context.Context, stakeWei string, targetDays uint64) (*challenge.RewardEstimate, error) {
	stake, err := parseWei(stakeWei)
	if err != nil {
		return nil, err
	}
	if targetDays < challenge.MinTargetDays {
		return nil, fmt.Errorf("%w: target days must be at least %d", ErrInvalidRequest, challenge.MinTargetDays)
	}
	reward, err := s.chain.CalculateReward(ctx, stake, targetDays)
	if err != nil {
		return nil, err
	}
	return &challenge.RewardEstimate{StakeWei: stake.String(), Days: targetDays, RewardWei: reward.String()}, nil
}

// ValidateCreate checks a create request the same way the contract would
// before any transaction is built.
func ValidateCreate(req challenge.CreateChallengeRequest) (challenge.CreateParams, error) {
	var p challenge.CreateParams

	if req.TargetDays < challenge.MinTargetDays {
		return p, fmt.Errorf("%w: target days must be at least %d", ErrInvalidRequest, challenge.MinTargetDays)
	}
	penalty, ok := challenge.ParsePenaltyType(req.PenaltyType)
	if !ok {
		return p, fmt.Errorf("%w: penalty type must be burn, charity or dev", ErrInvalidRequest)
	}
	category, ok := challenge.ParseCategory(req.Category)
	if !ok {
		return p, fmt.Errorf("%w: category must be reading, running, coding or other", ErrInvalidRequest)
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return p, fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(desc) > maxDescriptionRunes {
		return p, fmt.Errorf("%w: description longer than %d characters", ErrInvalidRequest, maxDescriptionRunes)
	}
	stake, err := parseWei(req.StakeWei)
	if err != nil {
		return p, err
	}

	return challenge.CreateParams{
		TargetDays:  req.TargetDays,
		PenaltyType: penalty,
		Category:    category,
		Description: desc,
		Stake:       stake,
	}, nil
}

func (s *ChallengeService) CreateChallenge(ctx context.Context, sess session.Session, req challenge.CreateChallengeRequest) (*challenge.CreateChallengeResult, error) {
	p, err := ValidateCreate(req)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeWrite(sess); err != nil {
		return nil, err
	}

	description := challenge.FormatDescription(p.Category, p.Description)
	id, txHash, err := s.chain.CreateChallenge(ctx, p, description)
	if err != nil {
		metrics.ChainTransactions.WithLabelValues("createChallenge", "failed").Inc()
		return nil, err
	}
	metrics.ChainTransactions.WithLabelValues("createChallenge", "ok").Inc()

	if err := s.history.SaveCategory(ctx, sess.Wallet(), id, p.Category); err != nil {
		s.logger.Error("failed to persist challenge category",
			zap.String("wallet", sess.Wallet()), zap.Uint64("challenge_id", id), zap.Error(err))
	}

	s.logger.Info("challenge created",
		zap.String("wallet", sess.Wallet()),
		zap.Uint64("challenge_id", id),
		zap.String("category", string(p.Category)),
		zap.String("tx_hash", txHash),
	)
	return &challenge.CreateChallengeResult{
		ChallengeID: id,
		TxHash:      txHash,
		Description: description,
		Category:    p.Category,
	}, nil
}

func (s *ChallengeService) ClaimReward(ctx context.Context, sess session.Session, id uint64) (*challenge.TxResult, error) {
	return s.transact(ctx, sess, "claimReward", id, s.chain.ClaimReward)
}

func (s *ChallengeService) EmergencyWithdraw(ctx context.Context, sess session.Session, id uint64) (*challenge.TxResult, error) {
	return s.transact(ctx, sess, "emergencyWithdraw", id, s.chain.EmergencyWithdraw)
}

func (s *ChallengeService) UseResurrection(ctx context.Context, sess session.Session, id uint64) (*challenge.TxResult, error) {
	return s.transact(ctx, sess, "useResurrection", id, s.chain.UseResurrection)
}

// transact sends one lifecycle transaction. Duplicate submissions are left to
// the contract to reject.
func (s *ChallengeService) transact(ctx context.Context, sess session.Session, method string, id uint64,
	send func(context.Context, uint64) (string, error)) (*challenge.TxResult, error) {
	if err := s.authorizeWrite(sess); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "escrow."+method)
	defer span.End()
	span.SetAttributes(attribute.Int64("challenge.id", int64(id)))

	txHash, err := send(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.ChainTransactions.WithLabelValues(method, "failed").Inc()
		s.logger.Warn("transaction failed",
			zap.String("method", method), zap.Uint64("challenge_id", id), zap.String("tx_hash", txHash), zap.Error(err))
		return nil, err
	}
	metrics.ChainTransactions.WithLabelValues(method, "ok").Inc()
	return &challenge.TxResult{ChallengeID: id, TxHash: txHash}, nil
}

func (s *ChallengeService) authorizeWrite(sess session.Session) error {
	if !sess.Connected() {
		return ErrNotConnected
	}
	signer, ok := s.chain.Signer()
	if !ok {
		return ErrWritesDisabled
	}
	if signer != sess.Address {
		return ErrSignerMismatch
	}
	return nil
}

func (s *ChallengeService) categories(ctx context.Context, wallet string) map[uint64]challenge.Category {
	cats, err := s.history.Categories(ctx, wallet)
	if err != nil {
		s.logger.Warn("category lookup failed, inferring from descriptions", zap.String("wallet", wallet), zap.Error(err))
		return nil
	}
	return cats
}

func applyCategory(c *challenge.Challenge, recorded map[uint64]challenge.Category) {
	if cat, ok := recorded[c.ID]; ok {
		c.Category = cat
		return
	}
	if c.Category == "" {
		c.Category = challenge.InferCategory(c.HabitDescription)
	}
}

func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: stake must be a positive integer amount of wei", ErrInvalidRequest)
	}
	return v, nil
}
