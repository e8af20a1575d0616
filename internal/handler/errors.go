package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/eaglebank/ledger/internal/errs"
	"github.com/eaglebank/ledger/shared/middleware"
	"github.com/eaglebank/ledger/shared/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleError maps a ledger error onto an HTTP response.
func HandleError(c *gin.Context, log *zap.Logger, err error) {
	fields := []zap.Field{
		zap.String("requestId", middleware.GetRequestID(c)),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, errs.ErrDenied):
		log.Warn("request denied", fields...)
		middleware.RespondWithError(c, http.StatusForbidden, "You are not allowed to perform this operation")

	case errors.Is(err, errs.ErrNotFound):
		log.Warn("resource not found", fields...)
		middleware.RespondWithError(c, http.StatusNotFound, "Resource not found")

	case errors.Is(err, errs.ErrAlreadyExists):
		log.Warn("resource already exists", fields...)
		middleware.RespondWithError(c, http.StatusConflict, "Resource already exists")

	case errors.Is(err, errs.ErrConflict):
		log.Warn("write conflict", fields...)
		middleware.RespondWithError(c, http.StatusConflict, "Concurrent update, please retry")

	case errors.Is(err, errs.ErrInsufficientFunds):
		log.Info("insufficient funds", fields...)
		middleware.RespondWithError(c, http.StatusUnprocessableEntity, "Insufficient funds")

	case errors.Is(err, errs.ErrCrossBank):
		log.Info("cross-bank movement rejected", fields...)
		middleware.RespondWithError(c, http.StatusUnprocessableEntity, "Accounts must belong to the branch's bank")

	case errors.Is(err, errs.ErrInvalidAmount):
		middleware.RespondWithError(c, http.StatusBadRequest, "Amount must be positive with at most 2 decimal places")

	case errors.Is(err, errs.ErrSameAccount):
		middleware.RespondWithError(c, http.StatusBadRequest, "Cannot transfer to the same account")

	default:
		log.Error("unexpected error", append(fields, zap.String("type", fmt.Sprintf("%T", err)))...)
		middleware.RespondWithError(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

// accountNumberParam parses the :accountNumber path parameter, writing a 400
// when it is not a 16-digit number.
func accountNumberParam(c *gin.Context) (int64, bool) {
	n, err := strconv.ParseInt(c.Param("accountNumber"), 10, 64)
	if err != nil || !utils.ValidateAccountNumber(n) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid account number")
		return 0, false
	}
	return n, true
}
