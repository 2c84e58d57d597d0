package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"strictHabitAPI/internal/session"
)

type contextKey string

const SessionKey contextKey = "walletSession"

// Headers a client sends on every protected request. The signature is an
// EIP-191 personal_sign over SignInMessage(address, timestamp).
const (
	WalletHeader    = "X-Wallet-Address"
	SignatureHeader = "X-Wallet-Signature"
	TimestampHeader = "X-Wallet-Timestamp"
)

const DefaultSignatureMaxAge = 5 * time.Minute

var (
	ErrSignatureMissing = errors.New("wallet signature required")
	ErrSignatureExpired = errors.New("wallet signature expired")
	ErrSignatureInvalid = errors.New("wallet signature does not match address")
)

// SessionTracker is told about every request made with a wallet.
type SessionTracker interface {
	Track(sess session.Session)
}

// SignInMessage is the exact text a wallet signs to authenticate requests.
func SignInMessage(addr common.Address, unix int64) string {
	return fmt.Sprintf("StrictHabit sign-in\nWallet: %s\nTimestamp: %d", strings.ToLower(addr.Hex()), unix)
}

// RecoverSigner returns the address whose key personal_signed message. Both
// v=0/1 and wallet-style v=27/28 signatures are accepted.
func RecoverSigner(message string, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: %d byte signature", ErrSignatureInvalid, len(sig))
	}
	s := make([]byte, crypto.SignatureLength)
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// WalletAuth proves the caller holds the key of the wallet it names.
type WalletAuth struct {
	maxAge time.Duration
	now    func() time.Time
}

func NewWalletAuth(maxAge time.Duration) *WalletAuth {
	if maxAge <= 0 {
		maxAge = DefaultSignatureMaxAge
	}
	return &WalletAuth{maxAge: maxAge, now: time.Now}
}

// Verify checks the wallet headers of r. A timestamp further than maxAge from
// now in either direction is rejected.
func (a *WalletAuth) Verify(r *http.Request) (common.Address, error) {
	raw := strings.TrimSpace(r.Header.Get(WalletHeader))
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s header required", WalletHeader)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.New("invalid wallet address")
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, errors.New("invalid wallet address")
	}

	sigHex := strings.TrimSpace(r.Header.Get(SignatureHeader))
	tsRaw := strings.TrimSpace(r.Header.Get(TimestampHeader))
	if sigHex == "" || tsRaw == "" {
		return common.Address{}, ErrSignatureMissing
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
	}
	age := a.now().Sub(time.Unix(ts, 0))
	if age > a.maxAge || age < -a.maxAge {
		return common.Address{}, ErrSignatureExpired
	}

	if !strings.HasPrefix(sigHex, "0x") {
		sigHex = "0x" + sigHex
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	signer, err := RecoverSigner(SignInMessage(addr, ts), sig)
	if err != nil {
		return common.Address{}, err
	}
	if signer != addr {
		return common.Address{}, ErrSignatureInvalid
	}
	return addr, nil
}

// Middleware rejects requests without a valid wallet signature and stores the
// session in the request context otherwise.
func (a *WalletAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := a.Verify(r)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), SessionKey, session.New(addr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TrackSessions reports each session to t after the request is served.
func TrackSessions(t SessionTracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if sess, ok := GetSession(r.Context()); ok {
				t.Track(sess)
			}
		})
	}
}

func GetSession(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(SessionKey).(session.Session)
	return sess, ok
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
