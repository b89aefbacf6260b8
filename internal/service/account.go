package service

import (
	"context"
	"time"

	"postpilot/internal/model"
	"postpilot/internal/repository"
	"postpilot/pkg/logger"

	"go.uber.org/zap"
)

type AccountService struct {
	accounts repository.AccountInterface
	projects repository.ProjectInterface
	now      func() time.Time
}

func NewAccountService(accounts repository.AccountInterface, projects repository.ProjectInterface) *AccountService {
	return &AccountService{
		accounts: accounts,
		projects: projects,
		now:      time.Now,
	}
}

func (s *AccountService) List(ctx context.Context, userID string) ([]model.LinkedAccount, error) {
	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, infra("failed to list linked accounts", err)
	}
	return accounts, nil
}

func (s *AccountService) loadOwned(ctx context.Context, accountID, userID string) (*model.LinkedAccount, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, infra("failed to load linked account", err)
	}
	// Accounts of other users are reported as missing.
	if account == nil || account.UserID != userID {
		return nil, notFound("linked account")
	}
	return account, nil
}

func (s *AccountService) Activate(ctx context.Context, accountID, userID string) (*model.LinkedAccount, error) {
	account, err := s.loadOwned(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	account.IsActive = true
	account.RevokedAt = nil
	if err := s.accounts.Save(ctx, account); err != nil {
		return nil, infra("failed to activate linked account", err)
	}
	logger.Info("linked account activated", zap.String("account_id", account.ID))
	return account, nil
}

// Deactivate revokes the account unless a running project posts with it.
func (s *AccountService) Deactivate(ctx context.Context, accountID, userID string) (*model.LinkedAccount, error) {
	account, err := s.loadOwned(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	running, err := s.projects.CountByAccount(ctx, account.ID, model.ProjectRunning)
	if err != nil {
		return nil, infra("failed to check running projects", err)
	}
	if running > 0 {
		return nil, conflict("cannot deactivate an account used by a running project")
	}

	now := s.now()
	account.IsActive = false
	account.RevokedAt = &now
	if err := s.accounts.Save(ctx, account); err != nil {
		return nil, infra("failed to deactivate linked account", err)
	}
	logger.Info("linked account deactivated", zap.String("account_id", account.ID))
	return account, nil
}

// Delete removes the account unless any project still references it.
func (s *AccountService) Delete(ctx context.Context, accountID, userID string) error {
	account, err := s.loadOwned(ctx, accountID, userID)
	if err != nil {
		return err
	}
	linked, err := s.projects.CountByAccount(ctx, account.ID)
	if err != nil {
		return infra("failed to check linked projects", err)
	}
	if linked > 0 {
		return conflict("cannot delete an account linked to a project")
	}
	if err := s.accounts.Delete(ctx, account.ID); err != nil {
		return infra("failed to delete linked account", err)
	}
	logger.Info("linked account deleted", zap.String("account_id", account.ID))
	return nil
}
