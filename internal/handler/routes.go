package handler

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the ledger API on v1. Authentication is applied by the
// caller on the group.
func RegisterRoutes(v1 *gin.RouterGroup, accounts *AccountHandler, transactions *TransactionHandler) {
	v1.POST("/banks", accounts.CreateBank)
	v1.POST("/banks/:bankId/branches", accounts.CreateBranch)
	v1.DELETE("/branches/:branchId", accounts.DeleteBranch)
	v1.DELETE("/branches/:branchId/account", accounts.CloseAccount)

	v1.POST("/branches/:branchId/deposit", transactions.Deposit)
	v1.POST("/branches/:branchId/withdraw", transactions.Withdraw)
	v1.POST("/branches/:branchId/pay", transactions.Pay)
	v1.POST("/branches/:branchId/transfer", transactions.Transfer)

	v1.POST("/accounts", accounts.OpenAccount)
	v1.GET("/accounts/:accountNumber", accounts.GetAccount)
	v1.GET("/accounts/:accountNumber/transactions", transactions.ListTransactions)
	v1.GET("/transactions/:transactionId", transactions.GetTransaction)
}
