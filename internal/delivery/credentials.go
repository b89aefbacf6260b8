package delivery

import (
	"context"
	"errors"
	"fmt"

	"postpilot/internal/model"
	"postpilot/internal/provider"
	"postpilot/internal/repository"
)

var ErrAccountNotConnected = errors.New("account not connected")

// CredentialResolver returns the credentials a project posts with.
type CredentialResolver interface {
	Resolve(ctx context.Context, project *model.Project) (provider.Credentials, error)
}

type accountResolver struct {
	accounts repository.AccountInterface
}

// NewAccountResolver resolves credentials from the project's linked account.
func NewAccountResolver(accounts repository.AccountInterface) CredentialResolver {
	return &accountResolver{accounts: accounts}
}

func (r *accountResolver) Resolve(ctx context.Context, project *model.Project) (provider.Credentials, error) {
	if project.AccountID == "" {
		return provider.Credentials{}, ErrAccountNotConnected
	}
	account, err := r.accounts.GetByID(ctx, project.AccountID)
	if err != nil {
		return provider.Credentials{}, fmt.Errorf("failed to load linked account: %w", err)
	}
	if account == nil || account.UserID != project.UserID || !account.IsActive || account.RevokedAt != nil || account.AccessToken == "" {
		return provider.Credentials{}, ErrAccountNotConnected
	}
	return provider.Credentials{
		AccountID:   account.ID,
		Username:    account.Username,
		AccessToken: account.AccessToken,
	}, nil
}
