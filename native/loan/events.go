package loan

import (
	"strconv"

	"nftlend/core/types"
)

const (
	EventTypeLoanCreated = "loan.created"
	EventTypeLoanStarted = "loan.started"
	EventTypeLoanPayment = "loan.payment"
	EventTypeLoanRepaid  = "loan.repaid"
	EventTypeLoanClaimed = "loan.claimed"
	EventTypeTokenSwept  = "loan.token_swept"
)

// NewCreatedEvent returns the canonical payload for a freshly created loan.
func NewCreatedEvent(d *LoanData) *types.Event { return newLoanEvent(EventTypeLoanCreated, d) }

// NewStartedEvent returns the canonical payload emitted when a loan becomes
// active and its notes are minted.
func NewStartedEvent(d *LoanData) *types.Event { return newLoanEvent(EventTypeLoanStarted, d) }

// NewPaymentEvent returns the payload emitted for an installment payment that
// leaves the loan active.
func NewPaymentEvent(d *LoanData) *types.Event { return newLoanEvent(EventTypeLoanPayment, d) }

// NewRepaidEvent returns the payload emitted when a loan reaches the repaid
// terminal state.
func NewRepaidEvent(d *LoanData) *types.Event { return newLoanEvent(EventTypeLoanRepaid, d) }

// NewClaimedEvent returns the payload emitted when defaulted collateral is
// claimed by the lender.
func NewClaimedEvent(d *LoanData) *types.Event { return newLoanEvent(EventTypeLoanClaimed, d) }

func newLoanEvent(eventType string, d *LoanData) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeLoan(d)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["loanId"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["state"] = sanitized.State.String()
	attrs["collateralId"] = strconv.FormatUint(sanitized.Terms.CollateralID, 10)
	attrs["currency"] = sanitized.Terms.PayableCurrency
	attrs["principal"] = sanitized.Terms.Principal.String()
	attrs["balance"] = sanitized.Balance.String()
	attrs["balancePaid"] = sanitized.BalancePaid.String()
	attrs["lateFeesAccrued"] = sanitized.LateFeesAccrued.String()
	if sanitized.BorrowerNoteID != 0 {
		attrs["borrowerNoteId"] = strconv.FormatUint(sanitized.BorrowerNoteID, 10)
		attrs["lenderNoteId"] = strconv.FormatUint(sanitized.LenderNoteID, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
