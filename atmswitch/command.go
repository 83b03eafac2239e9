package atmswitch

import (
	"time"

	"github.com/shopspring/decimal"
)

// Command is one terminal-facing instruction. The response to an
// authorization is an ordered list of commands; the list end marks the end
// of the session, there is no explicit terminator command. The variant is
// closed: terminals render it with an exhaustive type switch.
type Command interface {
	isCommand()
}

// DispenseCash instructs the terminal to dispense the approved amount.
type DispenseCash struct {
	Amount decimal.Decimal
}

// PrintReceipt instructs the terminal to print a withdrawal receipt.
type PrintReceipt struct {
	TransactionID string
	TerminalID    string
	MaskedCard    string
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal
	Timestamp     time.Time
}

// ShowScreen instructs the terminal to display text; Error selects the
// error treatment on screen.
type ShowScreen struct {
	Text  string
	Error bool
}

func (DispenseCash) isCommand() {}
func (PrintReceipt) isCommand() {}
func (ShowScreen) isCommand()   {}
