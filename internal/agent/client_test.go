package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const wallet = "0x00000000000000000000000000000000000000Aa"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"}, zap.NewNop())
	assert.Error(t, err)
}

func TestEndpoint_AppendsAgentPrefixOnce(t *testing.T) {
	c, err := NewClient(Config{BaseURL: "http://localhost:8900/agent/"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8900/agent/github/auth?walletAddress=0xabc", c.GitHubAuthURL("0xabc"))

	c, err = NewClient(Config{BaseURL: "http://localhost:8900"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8900/agent/github/auth?walletAddress=0xabc", c.GitHubAuthURL("0xabc"))
}

func TestCheckGitHub_ClockedInWithTx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/agent/github/check", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wallet, r.URL.Query().Get("walletAddress"))
		assert.Equal(t, "0", r.URL.Query().Get("challengeId"))
		w.Write([]byte(`{"success":true,"clockedIn":true,"txHash":"0xabc","message":"ok"}`))
	})
	c := newTestClient(t, mux)

	res, err := c.CheckGitHub(context.Background(), wallet, 0)
	require.NoError(t, err)
	assert.Equal(t, CheckClockedIn, res.State)
	assert.Equal(t, "0xabc", res.TxHash)
}

func TestCheckStrava_States(t *testing.T) {
	tests := []struct {
		name string
		body string
		want CheckState
	}{
		{"not linked", `{"success":false,"message":"请先连接 Strava"}`, CheckDeclined},
		{"no run yet", `{"success":true,"clockedIn":false,"message":"今日尚未检测到有效的跑步记录"}`, CheckNotClockedIn},
		{"ran", `{"success":true,"clockedIn":true}`, CheckClockedIn},
		{"bare", `{"clockedIn":false}`, CheckNotClockedIn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/agent/strava/check", r.URL.Path)
				w.Write([]byte(tt.body))
			}))
			res, err := c.CheckStrava(context.Background(), wallet, 3)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.State)
		})
	}
}

func TestCheck_ServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	_, err := c.ReadingStatus(context.Background(), wallet, 1)
	assert.ErrorIs(t, err, ErrAgentStatus)
}

func TestSubmitReading_Multipart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/agent/reading/check", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, wallet, r.FormValue("walletAddress"))
		assert.Equal(t, "4", r.FormValue("challengeId"))
		if r.FormValue("content") == "ok" {
			w.Write([]byte(`{"success":false,"message":"内容过于简单"}`))
			return
		}
		w.Write([]byte(`{"success":true,"clockedIn":true,"txHash":"0xfeed","message":"打卡成功"}`))
	}))

	res, err := c.SubmitReading(context.Background(), wallet, 4, "ok")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "内容过于简单", res.Message)

	res, err = c.SubmitReading(context.Background(), wallet, 4, "今天读完了第三章，理解了领域驱动设计的聚合边界")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "0xfeed", res.TxHash)
}

func TestStatusEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/agent/github/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"connected":true,"githubUsername":"octo","githubAvatarUrl":"https://a/b.png"}`))
	})
	mux.HandleFunc("/agent/strava/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"connected":false}`))
	})
	mux.HandleFunc("/agent/strava/auth/url", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":"https://www.strava.com/oauth/authorize?state=x"}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	gh, err := c.GitHubStatus(ctx, wallet)
	require.NoError(t, err)
	assert.True(t, gh.Connected)
	assert.Equal(t, "octo", gh.Username)

	st, err := c.StravaStatus(ctx, wallet)
	require.NoError(t, err)
	assert.False(t, st.Connected)

	u, err := c.StravaAuthURL(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, "https://www.strava.com/oauth/authorize?state=x", u)
}
