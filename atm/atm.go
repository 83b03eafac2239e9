package atm

import (
	"fmt"
	"time"

	"github.com/alovak/atmswitch-playground/atmswitch"
	"github.com/alovak/atmswitch-playground/hsm"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

// Sleeper abstracts the dispensing/printing delays so tests run instantly.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

func NewSleeper() Sleeper { return realSleeper{} }

// ATM simulates one terminal. It is the only component besides the HSM
// that ever holds its zone key in the clear: the key is installed once and
// used locally to encrypt the PIN entered on the keypad.
type ATM struct {
	id      string
	network *atmswitch.Switch
	console ConsoleWriter
	sleeper Sleeper
	logger  *slog.Logger
	key     hsm.ClearKey
}

func New(id string, network *atmswitch.Switch, console ConsoleWriter, sleeper Sleeper, logger *slog.Logger) *ATM {
	return &ATM{
		id:      id,
		network: network,
		console: console,
		sleeper: sleeper,
		logger:  logger.With(slog.String("app", "atm"), slog.String("terminal", id)),
	}
}

func (a *ATM) ID() string {
	return a.id
}

// InstallKey installs the clear zone key handed over at registration time.
func (a *ATM) InstallKey(key hsm.ClearKey) {
	a.key = key
}

// SendTransactionRequest encrypts the entered PIN under the terminal's
// zone key, submits the request and renders the returned commands in
// order. The session ends when the command list is exhausted.
func (a *ATM) SendTransactionRequest(keysPressed, cardNumber, pin string, amount decimal.Decimal) error {
	cryptogram, err := a.key.Encrypt([]byte(pin))
	if err != nil {
		return fmt.Errorf("encrypting pin: %w", err)
	}

	a.logger.Info("sending transaction request", slog.String("keys", keysPressed))

	commands := a.network.Authorize(a.id, keysPressed, cardNumber, amount, cryptogram)
	a.execute(commands)
	return nil
}

func (a *ATM) execute(commands []atmswitch.Command) {
	for _, command := range commands {
		switch c := command.(type) {
		case atmswitch.DispenseCash:
			a.sleeper.Sleep(time.Second)
			a.console.WriteLine("> Efectivo dispensado: " + c.Amount.StringFixed(2))
		case atmswitch.PrintReceipt:
			a.sleeper.Sleep(500 * time.Millisecond)
			a.console.WriteLine("> Imprimiendo recibo...")
			a.console.WriteLine("  " + c.Timestamp.Format("02/01/2006 15:04"))
			a.console.WriteLine("  Terminal: " + c.TerminalID)
			a.console.WriteLine("  Tarjeta:  " + c.MaskedCard)
			a.console.WriteLine("  Retiro:   " + c.Amount.StringFixed(2))
			a.console.WriteLine("  Balance:  " + c.BalanceAfter.StringFixed(2))
			a.console.WriteLine("  Ref:      " + c.TransactionID)
		case atmswitch.ShowScreen:
			a.console.WriteLine(c.Text)
		default:
			// closed variant; reaching here means a new command kind
			// was added without a renderer
			a.logger.Error("unknown command", slog.String("type", fmt.Sprintf("%T", command)))
		}
	}
	a.console.WriteLine("")
}
