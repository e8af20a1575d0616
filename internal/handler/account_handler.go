package handler

import (
	"context"
	"net/http"

	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/middleware"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccountCommander defines the write-side operations used by AccountHandler.
type AccountCommander interface {
	CreateBank(context.Context, cqrs.CreateBankCommand) (*models.Bank, error)
	CreateBranch(context.Context, cqrs.CreateBranchCommand) (*models.Branch, error)
	DeleteBranch(context.Context, cqrs.DeleteBranchCommand) error
	OpenAccount(context.Context, cqrs.OpenAccountCommand) (*models.AccountView, error)
	CloseAccount(context.Context, cqrs.CloseAccountCommand) error
}

// AccountQuerier defines the read-side operations used by AccountHandler.
type AccountQuerier interface {
	GetAccount(context.Context, cqrs.GetAccountQuery) (*models.AccountView, error)
}

// AccountHandler handles bank, branch and account requests.
type AccountHandler struct {
	commands AccountCommander
	queries  AccountQuerier
	log      *zap.Logger
}

type CreateBankRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"max=500"`
}

type CreateBranchRequest struct {
	BankID   string `json:"-" validate:"bankid"`
	Name     string `json:"name" validate:"required,max=200"`
	Address  string `json:"address" validate:"max=500"`
	TellerID string `json:"tellerId" validate:"required"`
}

type OpenAccountRequest struct {
	BranchID string `json:"branchId" validate:"required,branchid"`
}

func NewAccountHandler(commands AccountCommander, queries AccountQuerier, log *zap.Logger) *AccountHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountHandler{commands: commands, queries: queries, log: log}
}

func (h *AccountHandler) CreateBank(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req CreateBankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	bank, err := h.commands.CreateBank(c.Request.Context(), cqrs.CreateBankCommand{
		ActorID: userID,
		Name:    req.Name,
		Address: req.Address,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, bank)
}

func (h *AccountHandler) CreateBranch(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req CreateBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.BankID = c.Param("bankId")
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	branch, err := h.commands.CreateBranch(c.Request.Context(), cqrs.CreateBranchCommand{
		ActorID:  userID,
		BankID:   req.BankID,
		Name:     req.Name,
		Address:  req.Address,
		TellerID: req.TellerID,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, branch)
}

func (h *AccountHandler) DeleteBranch(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	err := h.commands.DeleteBranch(c.Request.Context(), cqrs.DeleteBranchCommand{
		ActorID:  userID,
		BranchID: c.Param("branchId"),
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// OpenAccount opens an account for the caller at the requested branch.
func (h *AccountHandler) OpenAccount(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	view, err := h.commands.OpenAccount(c.Request.Context(), cqrs.OpenAccountCommand{
		ActorID:  userID,
		BranchID: req.BranchID,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

// CloseAccount closes the caller's own account held at the branch.
func (h *AccountHandler) CloseAccount(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	err := h.commands.CloseAccount(c.Request.Context(), cqrs.CloseAccountCommand{
		ActorID:  userID,
		BranchID: c.Param("branchId"),
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) GetAccount(c *gin.Context) {
	accountNumber, ok := accountNumberParam(c)
	if !ok {
		return
	}
	userID, _ := middleware.GetUserID(c)

	view, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{
		AccountNumber:    accountNumber,
		RequestingUserID: userID,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
