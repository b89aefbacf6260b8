package api

import (
	"context"
	"net/http"

	"postpilot/internal/dto/resp"
	"postpilot/internal/model"

	"github.com/gin-gonic/gin"
)

type AccountProvider interface {
	List(ctx context.Context, userID string) ([]model.LinkedAccount, error)
	Activate(ctx context.Context, accountID, userID string) (*model.LinkedAccount, error)
	Deactivate(ctx context.Context, accountID, userID string) (*model.LinkedAccount, error)
	Delete(ctx context.Context, accountID, userID string) error
}

type AccountHandler struct {
	accounts AccountProvider
}

func NewAccountHandler(accounts AccountProvider) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

func (h *AccountHandler) ListAccounts(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	accounts, err := h.accounts.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if accounts == nil {
		accounts = []model.LinkedAccount{}
	}
	c.JSON(http.StatusOK, accounts)
}

func (h *AccountHandler) ActivateAccount(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	account, err := h.accounts.Activate(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *AccountHandler) DeactivateAccount(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	account, err := h.accounts.Deactivate(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	if err := h.accounts.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.MessageResponse{Message: "linked account deleted"})
}
