package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"strictHabitAPI/internal/agent"
	"strictHabitAPI/internal/cache"
	"strictHabitAPI/internal/session"
	"strictHabitAPI/internal/types/account"
	"strictHabitAPI/internal/types/challenge"
)

var (
	errRPC   = errors.New("rpc unavailable")
	errAgent = errors.New("agent unreachable")

	testWallet = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	otherAddr  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func testSession() session.Session {
	return session.New(testWallet)
}

// fakeChain serves challenges from memory. Indices in failing return errRPC.
type fakeChain struct {
	mu         sync.Mutex
	challenges []challenge.Challenge
	failing    map[uint64]bool
	countErr   error
	signer     common.Address
	hasSigner  bool
	writeErr   error
	reads      atomic.Int64
	created    []challenge.CreateParams
	lastDesc   string
	txCounter  int
}

func (f *fakeChain) ChallengeCount(_ context.Context, _ common.Address) (uint64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.challenges)), nil
}

func (f *fakeChain) GetChallenge(_ context.Context, _ common.Address, id uint64) (challenge.Challenge, error) {
	f.reads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[id] {
		return challenge.Challenge{}, errRPC
	}
	if id >= uint64(len(f.challenges)) {
		return challenge.Challenge{}, errRPC
	}
	return f.challenges[id], nil
}

func (f *fakeChain) CalculateReward(_ context.Context, stake *big.Int, days uint64) (*big.Int, error) {
	r := new(big.Int).Mul(stake, new(big.Int).SetUint64(days))
	return r.Div(r, big.NewInt(100)), nil
}

func (f *fakeChain) RewardPoolBalance(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeChain) TokenBalance(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(42), nil
}

func (f *fakeChain) TokenMeta(context.Context) (challenge.TokenMeta, error) {
	return challenge.TokenMeta{Symbol: "STRICT", Decimals: 2}, nil
}

func (f *fakeChain) Signer() (common.Address, bool) {
	return f.signer, f.hasSigner
}

func (f *fakeChain) CreateChallenge(_ context.Context, p challenge.CreateParams, description string) (uint64, string, error) {
	if f.writeErr != nil {
		return 0, "", f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uint64(len(f.challenges))
	f.challenges = append(f.challenges, challenge.Challenge{
		StakeAmount:      p.Stake,
		TargetDays:       p.TargetDays,
		PenaltyType:      p.PenaltyType,
		HabitDescription: description,
		StartTime:        time.Now(),
	})
	f.created = append(f.created, p)
	f.lastDesc = description
	return id, "0xcreate", nil
}

func (f *fakeChain) ClaimReward(ctx context.Context, id uint64) (string, error) {
	return f.tx(id)
}

func (f *fakeChain) EmergencyWithdraw(ctx context.Context, id uint64) (string, error) {
	return f.tx(id)
}

func (f *fakeChain) UseResurrection(ctx context.Context, id uint64) (string, error) {
	return f.tx(id)
}

func (f *fakeChain) tx(uint64) (string, error) {
	if f.writeErr != nil {
		return "", f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCounter++
	return "0xtx", nil
}

// fakeAgent answers checks from per-category tables and counts every call.
type fakeAgent struct {
	mu sync.Mutex

	github  map[uint64]agent.CheckResult
	strava  map[uint64]agent.CheckResult
	reading map[uint64]agent.CheckResult
	failFor map[uint64]bool

	githubLinked bool
	stravaLinked bool

	submit      func(content string) (agent.ReadingResult, error)
	submitGate  chan struct{}
	submitCalls atomic.Int64
	checkCalls  atomic.Int64
	statusCalls atomic.Int64

	checkDelay   time.Duration
	checksActive atomic.Int64
	checksPeak   atomic.Int64
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		github:  map[uint64]agent.CheckResult{},
		strava:  map[uint64]agent.CheckResult{},
		reading: map[uint64]agent.CheckResult{},
		failFor: map[uint64]bool{},
	}
}

func (a *fakeAgent) answer(table map[uint64]agent.CheckResult, id uint64) (agent.CheckResult, error) {
	a.checkCalls.Add(1)
	n := a.checksActive.Add(1)
	defer a.checksActive.Add(-1)
	for {
		peak := a.checksPeak.Load()
		if n <= peak || a.checksPeak.CompareAndSwap(peak, n) {
			break
		}
	}
	if a.checkDelay > 0 {
		time.Sleep(a.checkDelay)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failFor[id] {
		return agent.CheckResult{}, errAgent
	}
	return table[id], nil
}

func (a *fakeAgent) set(table map[uint64]agent.CheckResult, id uint64, res agent.CheckResult) {
	a.mu.Lock()
	table[id] = res
	a.mu.Unlock()
}

func (a *fakeAgent) CheckGitHub(_ context.Context, _ string, id uint64) (agent.CheckResult, error) {
	return a.answer(a.github, id)
}

func (a *fakeAgent) CheckStrava(_ context.Context, _ string, id uint64) (agent.CheckResult, error) {
	return a.answer(a.strava, id)
}

func (a *fakeAgent) ReadingStatus(_ context.Context, _ string, id uint64) (agent.CheckResult, error) {
	return a.answer(a.reading, id)
}

func (a *fakeAgent) GitHubStatus(context.Context, string) (account.GitHubLink, error) {
	a.statusCalls.Add(1)
	return account.GitHubLink{Connected: a.githubLinked, Username: "octo"}, nil
}

func (a *fakeAgent) GitHubAuthURL(wallet string) string {
	return "http://agent/agent/github/auth?walletAddress=" + wallet
}

func (a *fakeAgent) StravaStatus(context.Context, string) (account.StravaLink, error) {
	a.statusCalls.Add(1)
	return account.StravaLink{Connected: a.stravaLinked}, nil
}

func (a *fakeAgent) StravaAuthURL(context.Context, string) (string, error) {
	return "https://www.strava.com/oauth/authorize", nil
}

func (a *fakeAgent) SubmitReading(_ context.Context, _ string, _ uint64, content string) (agent.ReadingResult, error) {
	a.submitCalls.Add(1)
	if a.submitGate != nil {
		<-a.submitGate
	}
	if a.submit == nil {
		return agent.ReadingResult{Accepted: true, TxHash: "0xread"}, nil
	}
	return a.submit(content)
}

func newTestCache() *cache.CompletedToday {
	return cache.NewCompletedToday(time.UTC, nil)
}

func active(desc string) challenge.Challenge {
	return challenge.Challenge{
		StakeAmount:      big.NewInt(100),
		TargetDays:       7,
		HabitDescription: desc,
		Status:           challenge.StatusActive,
		StartTime:        time.Now().Add(-time.Hour),
	}
}
