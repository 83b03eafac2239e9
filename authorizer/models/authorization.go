package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResponseCode is the numeric outcome of an authorization decision.
// 0 approves; everything else is a specific decline reason.
type ResponseCode int

const (
	ResponseApproved            ResponseCode = 0
	ResponseInsufficientFunds   ResponseCode = 51
	ResponseExpiredCard         ResponseCode = 54
	ResponseIncorrectPin        ResponseCode = 55
	ResponseUnknownCard         ResponseCode = 56
	ResponseOverWithdrawalLimit ResponseCode = 911
)

// WithdrawalResponse carries the decision for a withdrawal. The amount and
// balance are present only on approval.
type WithdrawalResponse struct {
	AuthorizedAmount *decimal.Decimal
	BalanceAfter     *decimal.Decimal
	Code             ResponseCode
}

// BalanceResponse carries the decision for a balance inquiry.
type BalanceResponse struct {
	Balance *decimal.Decimal
	Code    ResponseCode
}

type Transaction struct {
	ID            string          `json:"id"`
	AccountNumber string          `json:"account_number"`
	MaskedCard    string          `json:"masked_card"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}
