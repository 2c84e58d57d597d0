package session

import (
	"github.com/ethereum/go-ethereum/common"
)

// Session is the connected wallet a request acts for. The zero value means no
// wallet is connected.
type Session struct {
	Address common.Address
}

func New(addr common.Address) Session {
	return Session{Address: addr}
}

func (s Session) Connected() bool {
	return s.Address != (common.Address{})
}

// Wallet is the checksummed address string sent to the agent.
func (s Session) Wallet() string {
	if !s.Connected() {
		return ""
	}
	return s.Address.Hex()
}
