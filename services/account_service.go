package services

import (
	"context"

	"go.uber.org/zap"

	"strictHabitAPI/internal/session"
	"strictHabitAPI/internal/types/account"
)

type AccountService struct {
	agent  VerificationAgent
	logger *zap.Logger
}

func NewAccountService(agent VerificationAgent, logger *zap.Logger) *AccountService {
	return &AccountService{agent: agent, logger: logger}
}

// GitHub reports the link state and, when unlinked, where to authorize.
func (s *AccountService) GitHub(ctx context.Context, sess session.Session) (*account.GitHubLink, error) {
	if !sess.Connected() {
		return nil, ErrNotConnected
	}
	link, err := s.agent.GitHubStatus(ctx, sess.Wallet())
	if err != nil {
		return nil, err
	}
	if !link.Connected {
		link.AuthURL = s.agent.GitHubAuthURL(sess.Wallet())
	}
	return &link, nil
}

func (s *AccountService) Strava(ctx context.Context, sess session.Session) (*account.StravaLink, error) {
	if !sess.Connected() {
		return nil, ErrNotConnected
	}
	link, err := s.agent.StravaStatus(ctx, sess.Wallet())
	if err != nil {
		return nil, err
	}
	if !link.Connected {
		u, err := s.agent.StravaAuthURL(ctx, sess.Wallet())
		if err != nil {
			s.logger.Warn("strava auth url lookup failed", zap.String("wallet", sess.Wallet()), zap.Error(err))
		}
		link.AuthURL = u
	}
	return &link, nil
}
