package handlers

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"strictHabitAPI/internal/agent"
	"strictHabitAPI/internal/cache"
	"strictHabitAPI/internal/chain"
	"strictHabitAPI/internal/types/challenge"
	"strictHabitAPI/internal/types/checkin"
	"strictHabitAPI/middleware"
	"strictHabitAPI/services"
)

var (
	walletKey  = mustKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	walletAddr = crypto.PubkeyToAddress(walletKey.PublicKey)
)

func mustKey(h string) *ecdsa.PrivateKey {
	k, err := crypto.HexToECDSA(h)
	if err != nil {
		panic(err)
	}
	return k
}

type stubChain struct {
	challenges []challenge.Challenge
	signer     common.Address
	claimErr   error
}

func (s *stubChain) ChallengeCount(context.Context, common.Address) (uint64, error) {
	return uint64(len(s.challenges)), nil
}

func (s *stubChain) GetChallenge(_ context.Context, _ common.Address, id uint64) (challenge.Challenge, error) {
	return s.challenges[id], nil
}

func (s *stubChain) CalculateReward(_ context.Context, stake *big.Int, _ uint64) (*big.Int, error) {
	return new(big.Int).Div(stake, big.NewInt(10)), nil
}

func (s *stubChain) RewardPoolBalance(context.Context) (*big.Int, error) { return big.NewInt(5), nil }

func (s *stubChain) TokenBalance(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(7), nil
}

func (s *stubChain) TokenMeta(context.Context) (challenge.TokenMeta, error) {
	return challenge.TokenMeta{Symbol: "STRICT", Decimals: 18}, nil
}

func (s *stubChain) Signer() (common.Address, bool) { return s.signer, s.signer != (common.Address{}) }

func (s *stubChain) CreateChallenge(context.Context, challenge.CreateParams, string) (uint64, string, error) {
	return uint64(len(s.challenges)), "0xnew", nil
}

func (s *stubChain) ClaimReward(context.Context, uint64) (string, error) {
	return "0xclaim", s.claimErr
}

func (s *stubChain) EmergencyWithdraw(context.Context, uint64) (string, error) { return "0xw", nil }

func (s *stubChain) UseResurrection(context.Context, uint64) (string, error) { return "0xr", nil }

func newServer(t *testing.T, stub *stubChain, agentMux http.Handler) *mux.Router {
	t.Helper()
	agentSrv := httptest.NewServer(agentMux)
	t.Cleanup(agentSrv.Close)

	ag, err := agent.NewClient(agent.Config{BaseURL: agentSrv.URL}, zap.NewNop())
	require.NoError(t, err)

	logger := zap.NewNop()
	today := cache.NewCompletedToday(time.UTC, nil)
	history := services.NewMemoryHistoryStore()
	cs := services.NewChallengeService(stub, history, today, logger)
	ci := services.NewCheckInService(cs, ag, today, history, logger)
	rs := services.NewReadingService(cs, ag, today, history, logger)
	as := services.NewAccountService(ag, logger)

	challengeHandler := NewChallengeHandler(cs)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rewards/estimate", challengeHandler.EstimateReward).Methods("GET")
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.NewWalletAuth(0).Middleware)
	RegisterRoutes(protected, challengeHandler, NewCheckInHandler(ci, rs), NewAccountHandler(as))
	return r
}

func signWallet(req *http.Request) {
	ts := time.Now().Unix()
	sig, err := crypto.Sign(accounts.TextHash([]byte(middleware.SignInMessage(walletAddr, ts))), walletKey)
	if err != nil {
		panic(err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	req.Header.Set(middleware.WalletHeader, walletAddr.Hex())
	req.Header.Set(middleware.SignatureHeader, hexutil.Encode(sig))
	req.Header.Set(middleware.TimestampHeader, strconv.FormatInt(ts, 10))
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	signWallet(req)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func activeChallenge(desc string) challenge.Challenge {
	return challenge.Challenge{
		StakeAmount:      big.NewInt(100),
		TargetDays:       7,
		HabitDescription: desc,
		StartTime:        time.Now().Add(-time.Hour),
	}
}

func TestListChallenges_Partitioned(t *testing.T) {
	done := activeChallenge("阅读")
	done.Status = challenge.StatusCompleted
	r := newServer(t, &stubChain{challenges: []challenge.Challenge{activeChallenge("编程 - 每日 1 次 Commit"), done}}, http.NotFoundHandler())

	rec := do(r, http.MethodGet, "/api/v1/challenges", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list challenge.ChallengeList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, uint64(2), list.Count)
	require.Len(t, list.Active, 1)
	require.Len(t, list.Completed, 1)
	assert.Equal(t, uint64(1), list.Completed[0].ID)
}

func TestRequiresWalletHeader(t *testing.T) {
	r := newServer(t, &stubChain{}, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/challenges", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Estimates are public.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/rewards/estimate?stake=1000&days=7", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reward_wei":"100"`)
}

func TestSync_ReportsClockIn(t *testing.T) {
	agentMux := http.NewServeMux()
	agentMux.HandleFunc("/agent/github/check", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"clockedIn":true,"txHash":"0xabc"}`))
	})
	r := newServer(t, &stubChain{challenges: []challenge.Challenge{activeChallenge("编程 - 每日 1 次 Commit")}}, agentMux)

	rec := do(r, http.MethodPost, "/api/v1/checkins/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report checkin.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, []string{"0xabc"}, report.TxHashes)

	rec = do(r, http.MethodGet, "/api/v1/checkins/today", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status checkin.TodayStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, []uint64{0}, status.ChallengeIDs)
}

func TestReadingNote_RejectedAndEmpty(t *testing.T) {
	agentMux := http.NewServeMux()
	agentMux.HandleFunc("/agent/reading/check", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"内容过于简单"}`))
	})
	r := newServer(t, &stubChain{challenges: []challenge.Challenge{activeChallenge("阅读 - 每天一章")}}, agentMux)

	rec := do(r, http.MethodPost, "/api/v1/challenges/0/reading-notes", `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/api/v1/challenges/0/reading-notes", `{"content":"读了一点"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var v checkin.ReadingVerdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, checkin.VerdictRejected, v.Verdict)
	assert.Equal(t, "内容过于简单", v.Message)
}

func TestClaim_ErrorMapping(t *testing.T) {
	signer := walletAddr

	r := newServer(t, &stubChain{}, http.NotFoundHandler())
	rec := do(r, http.MethodPost, "/api/v1/challenges/0/claim", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	r = newServer(t, &stubChain{signer: signer, claimErr: chain.ErrReverted}, http.NotFoundHandler())
	rec = do(r, http.MethodPost, "/api/v1/challenges/0/claim", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	r = newServer(t, &stubChain{signer: signer}, http.NotFoundHandler())
	rec = do(r, http.MethodPost, "/api/v1/challenges/3/claim", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge_id":3,"tx_hash":"0xclaim"}`, rec.Body.String())
}

func TestCreateChallenge_Validation(t *testing.T) {
	r := newServer(t, &stubChain{signer: walletAddr}, http.NotFoundHandler())

	rec := do(r, http.MethodPost, "/api/v1/challenges", `{"target_days":3,"penalty_type":"burn","category":"coding","description":"x","stake_wei":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/api/v1/challenges", `{"target_days":7,"penalty_type":"burn","category":"coding","description":"每日 1 次 Commit","stake_wei":"1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tx_hash":"0xnew"`)
}

func TestWithdraw_RequiresWalletSignature(t *testing.T) {
	r := newServer(t, &stubChain{signer: walletAddr}, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/challenges/0/withdraw", nil)
	req.Header.Set(middleware.WalletHeader, walletAddr.Hex())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "tx_hash")

	rec = do(r, http.MethodPost, "/api/v1/challenges/0/withdraw", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge_id":0,"tx_hash":"0xw"}`, rec.Body.String())
}

func TestDashboard_TokenDisplay(t *testing.T) {
	r := newServer(t, &stubChain{challenges: []challenge.Challenge{activeChallenge("跑步 - 每天 5 公里")}}, http.NotFoundHandler())

	rec := do(r, http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var d services.Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "STRICT", d.TokenSymbol)
	assert.Equal(t, uint8(18), d.TokenDecimals)
	assert.Equal(t, "7", d.TokenBalanceWei)
	assert.Equal(t, "0.000000000000000007", d.TokenBalance)
	assert.Equal(t, "100", d.TotalStakedWei)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(services.ErrSubmissionInFlight))
	assert.Equal(t, http.StatusNotFound, statusFor(services.ErrChallengeAbsent))
	assert.Equal(t, http.StatusBadGateway, statusFor(errors.New("dial tcp: refused")))
}
