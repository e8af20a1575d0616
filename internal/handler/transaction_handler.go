package handler

import (
	"context"
	"net/http"

	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/middleware"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionCommander defines the write-side operations used by TransactionHandler.
type TransactionCommander interface {
	Deposit(context.Context, cqrs.DepositCommand) (*models.TransactionRecord, error)
	Withdraw(context.Context, cqrs.WithdrawCommand) (*models.TransactionRecord, error)
	Pay(context.Context, cqrs.PayCommand) (*models.TransactionRecord, error)
	Transfer(context.Context, cqrs.TransferCommand) (*models.TransactionRecord, error)
}

// TransactionQuerier defines the read-side operations used by TransactionHandler.
type TransactionQuerier interface {
	GetTransaction(context.Context, cqrs.GetTransactionQuery) (*models.TransactionView, error)
	ListTransactions(context.Context, cqrs.ListTransactionsQuery) ([]models.TransactionView, error)
}

type TransactionHandler struct {
	commands TransactionCommander
	queries  TransactionQuerier
	log      *zap.Logger
}

// MovementRequest is the body of deposit, withdraw and pay requests. Amount is
// a decimal string such as "12.50".
type MovementRequest struct {
	AccountNumber int64  `json:"accountNumber" validate:"required,accountnumber"`
	Amount        string `json:"amount" validate:"required,max=32,money"`
}

type TransferRequest struct {
	FromAccountNumber int64  `json:"fromAccountNumber" validate:"required,accountnumber"`
	ToAccountNumber   int64  `json:"toAccountNumber" validate:"required,accountnumber"`
	Amount            string `json:"amount" validate:"required,max=32,money"`
}

type ListTransactionsResponse struct {
	Transactions []models.TransactionView `json:"transactions"`
}

func NewTransactionHandler(commands TransactionCommander, queries TransactionQuerier, log *zap.Logger) *TransactionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransactionHandler{commands: commands, queries: queries, log: log}
}

// bindMovement binds and validates a MovementRequest, writing a 400 on failure.
func bindMovement(c *gin.Context) (MovementRequest, decimal.Decimal, bool) {
	var req MovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return req, decimal.Zero, false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return req, decimal.Zero, false
	}
	// Already checked by the money validator.
	amount, _ := decimal.NewFromString(req.Amount)
	return req, amount, true
}

func (h *TransactionHandler) respondRecord(c *gin.Context, record *models.TransactionRecord, err error) {
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, models.RecordToView(record))
}

func (h *TransactionHandler) Deposit(c *gin.Context) {
	req, amount, ok := bindMovement(c)
	if !ok {
		return
	}
	userID, _ := middleware.GetUserID(c)

	record, err := h.commands.Deposit(c.Request.Context(), cqrs.DepositCommand{
		ActorID:       userID,
		BranchID:      c.Param("branchId"),
		AccountNumber: req.AccountNumber,
		Amount:        amount,
	})
	h.respondRecord(c, record, err)
}

func (h *TransactionHandler) Withdraw(c *gin.Context) {
	req, amount, ok := bindMovement(c)
	if !ok {
		return
	}
	userID, _ := middleware.GetUserID(c)

	record, err := h.commands.Withdraw(c.Request.Context(), cqrs.WithdrawCommand{
		ActorID:       userID,
		BranchID:      c.Param("branchId"),
		AccountNumber: req.AccountNumber,
		Amount:        amount,
	})
	h.respondRecord(c, record, err)
}

func (h *TransactionHandler) Pay(c *gin.Context) {
	req, amount, ok := bindMovement(c)
	if !ok {
		return
	}
	userID, _ := middleware.GetUserID(c)

	record, err := h.commands.Pay(c.Request.Context(), cqrs.PayCommand{
		ActorID:       userID,
		BranchID:      c.Param("branchId"),
		AccountNumber: req.AccountNumber,
		Amount:        amount,
	})
	h.respondRecord(c, record, err)
}

func (h *TransactionHandler) Transfer(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}
	amount, _ := decimal.NewFromString(req.Amount)

	record, err := h.commands.Transfer(c.Request.Context(), cqrs.TransferCommand{
		ActorID:           userID,
		BranchID:          c.Param("branchId"),
		FromAccountNumber: req.FromAccountNumber,
		ToAccountNumber:   req.ToAccountNumber,
		Amount:            amount,
	})
	h.respondRecord(c, record, err)
}

func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	accountNumber, ok := accountNumberParam(c)
	if !ok {
		return
	}
	userID, _ := middleware.GetUserID(c)

	views, err := h.queries.ListTransactions(c.Request.Context(), cqrs.ListTransactionsQuery{
		AccountNumber:    accountNumber,
		RequestingUserID: userID,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	if views == nil {
		views = []models.TransactionView{}
	}

	c.JSON(http.StatusOK, ListTransactionsResponse{Transactions: views})
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	transactionID := c.Param("transactionId")
	if !utils.ValidateTransactionID(transactionID) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid transaction id")
		return
	}
	userID, _ := middleware.GetUserID(c)

	view, err := h.queries.GetTransaction(c.Request.Context(), cqrs.GetTransactionQuery{
		TransactionID:    transactionID,
		RequestingUserID: userID,
	})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
