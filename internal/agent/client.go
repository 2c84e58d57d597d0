package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"strictHabitAPI/internal/types/account"
)

var ErrAgentStatus = errors.New("agent returned non-success status")

// CheckState is the typed form of a /check response.
type CheckState int

const (
	CheckNotClockedIn CheckState = iota
	CheckClockedIn
	// CheckDeclined means the agent answered success=false without a
	// clock-in decision, e.g. the data source is not linked.
	CheckDeclined
)

type CheckResult struct {
	State   CheckState
	TxHash  string
	Message string
}

type ReadingResult struct {
	Accepted bool
	TxHash   string
	Message  string
}

type checkResponse struct {
	Success   *bool  `json:"success"`
	ClockedIn *bool  `json:"clockedIn"`
	Message   string `json:"message"`
	TxHash    string `json:"txHash"`
}

func (r checkResponse) result() CheckResult {
	res := CheckResult{TxHash: r.TxHash, Message: r.Message}
	switch {
	case r.ClockedIn != nil && *r.ClockedIn:
		res.State = CheckClockedIn
	case r.Success != nil && !*r.Success:
		res.State = CheckDeclined
	default:
		res.State = CheckNotClockedIn
	}
	return res
}

type githubStatusResponse struct {
	Connected       bool   `json:"connected"`
	GitHubUsername  string `json:"githubUsername"`
	GitHubAvatarURL string `json:"githubAvatarUrl"`
}

type stravaStatusResponse struct {
	Connected bool  `json:"connected"`
	AthleteID int64 `json:"athleteId"`
}

type stravaAuthURLResponse struct {
	URL string `json:"url"`
}

type Config struct {
	BaseURL string
	// RequestsPerSecond caps outbound calls; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client talks to the verification agent under <BaseURL>/agent.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid agent base url %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/agent") {
		base.Path += "/agent"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

func walletQuery(wallet string, challengeID *uint64) url.Values {
	q := url.Values{}
	q.Set("walletAddress", wallet)
	if challengeID != nil {
		q.Set("challengeId", strconv.FormatUint(*challengeID, 10))
	}
	return q
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("agent call",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %d %s", ErrAgentStatus, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) GitHubStatus(ctx context.Context, wallet string) (account.GitHubLink, error) {
	var resp githubStatusResponse
	if err := c.getJSON(ctx, "/github/status", walletQuery(wallet, nil), &resp); err != nil {
		return account.GitHubLink{}, err
	}
	return account.GitHubLink{
		Connected: resp.Connected,
		Username:  resp.GitHubUsername,
		AvatarURL: resp.GitHubAvatarURL,
	}, nil
}

// GitHubAuthURL is the agent endpoint that redirects the browser to GitHub.
func (c *Client) GitHubAuthURL(wallet string) string {
	return c.endpoint("/github/auth", walletQuery(wallet, nil))
}

func (c *Client) StravaStatus(ctx context.Context, wallet string) (account.StravaLink, error) {
	var resp stravaStatusResponse
	if err := c.getJSON(ctx, "/strava/status", walletQuery(wallet, nil), &resp); err != nil {
		return account.StravaLink{}, err
	}
	return account.StravaLink{Connected: resp.Connected, AthleteID: resp.AthleteID}, nil
}

func (c *Client) StravaAuthURL(ctx context.Context, wallet string) (string, error) {
	var resp stravaAuthURLResponse
	if err := c.getJSON(ctx, "/strava/auth/url", walletQuery(wallet, nil), &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) CheckGitHub(ctx context.Context, wallet string, challengeID uint64) (CheckResult, error) {
	return c.check(ctx, "/github/check", wallet, challengeID)
}

func (c *Client) CheckStrava(ctx context.Context, wallet string, challengeID uint64) (CheckResult, error) {
	return c.check(ctx, "/strava/check", wallet, challengeID)
}

func (c *Client) ReadingStatus(ctx context.Context, wallet string, challengeID uint64) (CheckResult, error) {
	return c.check(ctx, "/reading/check", wallet, challengeID)
}

func (c *Client) check(ctx context.Context, path, wallet string, challengeID uint64) (CheckResult, error) {
	var resp checkResponse
	if err := c.getJSON(ctx, path, walletQuery(wallet, &challengeID), &resp); err != nil {
		return CheckResult{}, err
	}
	return resp.result(), nil
}

// SubmitReading posts a reading note for AI review as multipart form data.
func (c *Client) SubmitReading(ctx context.Context, wallet string, challengeID uint64, content string) (ReadingResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{
		{"walletAddress", wallet},
		{"challengeId", strconv.FormatUint(challengeID, 10)},
		{"content", content},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return ReadingResult{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return ReadingResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/reading/check", nil), &body)
	if err != nil {
		return ReadingResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var resp checkResponse
	if err := c.do(req, &resp); err != nil {
		return ReadingResult{}, err
	}
	return ReadingResult{
		Accepted: resp.Success != nil && *resp.Success,
		TxHash:   resp.TxHash,
		Message:  resp.Message,
	}, nil
}
