package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"strictHabitAPI/internal/agent"
	"strictHabitAPI/internal/cache"
	"strictHabitAPI/internal/session"
	"strictHabitAPI/internal/types/challenge"
	"strictHabitAPI/internal/types/checkin"
)

type checkInFixture struct {
	chain   *fakeChain
	agent   *fakeAgent
	today   *cache.CompletedToday
	history *MemoryHistoryStore
	svc     *CheckInService
}

func newCheckInFixture(challenges ...challenge.Challenge) *checkInFixture {
	f := &checkInFixture{
		chain:   &fakeChain{challenges: challenges},
		agent:   newFakeAgent(),
		today:   newTestCache(),
		history: NewMemoryHistoryStore(),
	}
	cs := NewChallengeService(f.chain, f.history, f.today, zap.NewNop())
	f.svc = NewCheckInService(cs, f.agent, f.today, f.history, zap.NewNop())
	return f
}

func byID(r *checkin.Report) map[uint64]checkin.Result {
	out := map[uint64]checkin.Result{}
	for _, res := range r.Results {
		out[res.ChallengeID] = res
	}
	return out
}

func TestDailyCheck_GitHubClockInScenario(t *testing.T) {
	f := newCheckInFixture(active("编程 - 每日 1 次 Commit"))
	f.agent.github[0] = agent.CheckResult{State: agent.CheckClockedIn, TxHash: "0xabc"}

	report, err := f.svc.DailyCheck(context.Background(), testSession())
	require.NoError(t, err)

	_, ids := f.today.Snapshot(testWallet.Hex())
	assert.Equal(t, []uint64{0}, ids)
	assert.Contains(t, report.TxHashes, "0xabc")
	assert.Equal(t, 1, report.SucceededCount)
	assert.True(t, report.AnyClockedIn)
	assert.False(t, report.NothingToCheck)

	hist, err := f.history.List(context.Background(), testWallet.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "0xabc", hist[0].TxHash)
}

func TestDailyCheck_IdempotentAndMonotonic(t *testing.T) {
	f := newCheckInFixture(active("编程"), active("跑步"))
	f.agent.github[0] = agent.CheckResult{State: agent.CheckClockedIn}
	f.agent.strava[1] = agent.CheckResult{State: agent.CheckNotClockedIn}
	ctx := context.Background()

	_, err := f.svc.DailyCheck(ctx, testSession())
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.agent.checkCalls.Load())

	// Challenge 0 is cached and not asked again; challenge 1 now succeeds.
	f.agent.set(f.agent.github, 0, agent.CheckResult{State: agent.CheckNotClockedIn})
	f.agent.set(f.agent.strava, 1, agent.CheckResult{State: agent.CheckClockedIn, TxHash: "0x01"})

	report, err := f.svc.DailyCheck(ctx, testSession())
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.agent.checkCalls.Load())

	res := byID(report)
	assert.True(t, res[0].Cached)
	assert.Equal(t, checkin.OutcomeVerified, res[0].Outcome)
	assert.Equal(t, checkin.OutcomeVerified, res[1].Outcome)
	assert.Equal(t, []string{"0x01"}, report.TxHashes)

	_, ids := f.today.Snapshot(testWallet.Hex())
	assert.Equal(t, []uint64{0, 1}, ids)
}

func TestDailyCheck_TransportFailureIsolated(t *testing.T) {
	f := newCheckInFixture(active("跑步"), active("编程"))
	f.agent.failFor[0] = true
	f.agent.github[1] = agent.CheckResult{State: agent.CheckClockedIn}

	report, err := f.svc.DailyCheck(context.Background(), testSession())
	require.NoError(t, err)

	res := byID(report)
	assert.Equal(t, checkin.OutcomeCheckFailed, res[0].Outcome)
	assert.False(t, res[0].ClockedIn)
	assert.Equal(t, checkin.OutcomeVerified, res[1].Outcome)
	assert.Equal(t, 1, report.SucceededCount)
}

func TestDailyCheck_DeclinedResolvesToNeedsAuth(t *testing.T) {
	f := newCheckInFixture(active("跑步 - 5km"), active("编程 - commit"))
	f.agent.strava[0] = agent.CheckResult{State: agent.CheckDeclined, Message: "请先连接 Strava"}
	f.agent.github[1] = agent.CheckResult{State: agent.CheckDeclined}
	f.agent.githubLinked = true

	report, err := f.svc.DailyCheck(context.Background(), testSession())
	require.NoError(t, err)

	res := byID(report)
	assert.Equal(t, checkin.OutcomeNeedsAuth, res[0].Outcome)
	assert.Equal(t, "https://www.strava.com/oauth/authorize", res[0].AuthURL)
	// Linked but declined is just not satisfied yet.
	assert.Equal(t, checkin.OutcomeNotYetSatisfied, res[1].Outcome)
	assert.Equal(t, int64(2), f.agent.statusCalls.Load())
	assert.False(t, report.NothingToCheck)
}

func TestDailyCheck_NothingToCheck(t *testing.T) {
	t.Run("only uncategorized", func(t *testing.T) {
		f := newCheckInFixture(active("冥想十分钟"))
		report, err := f.svc.DailyCheck(context.Background(), testSession())
		require.NoError(t, err)
		assert.True(t, report.NothingToCheck)
		assert.Equal(t, checkin.OutcomeSkipped, report.Results[0].Outcome)
		assert.Zero(t, f.agent.checkCalls.Load())
	})

	t.Run("all unauthenticated", func(t *testing.T) {
		f := newCheckInFixture(active("跑步"))
		f.agent.strava[0] = agent.CheckResult{State: agent.CheckDeclined}
		report, err := f.svc.DailyCheck(context.Background(), testSession())
		require.NoError(t, err)
		assert.True(t, report.NothingToCheck)
		assert.Equal(t, msgNothingToCheck, report.Message)
	})

	t.Run("no wallet", func(t *testing.T) {
		f := newCheckInFixture(active("跑步"))
		report, err := f.svc.DailyCheck(context.Background(), session.Session{})
		require.NoError(t, err)
		assert.True(t, report.NothingToCheck)
		assert.Zero(t, f.chain.reads.Load())
	})
}

func TestDailyCheck_TerminalChallengesAreIgnored(t *testing.T) {
	done := active("编程")
	done.Status = challenge.StatusCompleted
	f := newCheckInFixture(done)

	report, err := f.svc.DailyCheck(context.Background(), testSession())
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Zero(t, f.agent.checkCalls.Load())
}

func TestDailyCheck_ListingFailure(t *testing.T) {
	f := newCheckInFixture()
	f.chain.countErr = errRPC

	_, err := f.svc.DailyCheck(context.Background(), testSession())
	assert.ErrorIs(t, err, ErrListChallenges)
}

func TestDailyCheck_ConcurrentPassesUnion(t *testing.T) {
	f := newCheckInFixture(active("编程"), active("跑步"), active("阅读"))
	f.agent.github[0] = agent.CheckResult{State: agent.CheckClockedIn}
	f.agent.strava[1] = agent.CheckResult{State: agent.CheckClockedIn}
	f.agent.reading[2] = agent.CheckResult{State: agent.CheckClockedIn}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.DailyCheck(context.Background(), testSession())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	status := f.svc.Status(context.Background(), testSession())
	assert.Equal(t, []uint64{0, 1, 2}, status.ChallengeIDs)
}

func TestDailyCheck_BoundedConcurrency(t *testing.T) {
	challenges := make([]challenge.Challenge, 40)
	for i := range challenges {
		challenges[i] = active("跑步 - 每天 5 公里")
	}
	f := newCheckInFixture(challenges...)
	f.agent.checkDelay = 5 * time.Millisecond
	f.svc.SetConcurrency(3)

	report, err := f.svc.DailyCheck(context.Background(), testSession())
	require.NoError(t, err)
	assert.Len(t, report.Results, 40)
	assert.Equal(t, int64(40), f.agent.checkCalls.Load())
	assert.LessOrEqual(t, f.agent.checksPeak.Load(), int64(3))
}
