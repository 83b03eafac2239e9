package atmswitch

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alovak/atmswitch-playground/authorizer/models"
	"github.com/alovak/atmswitch-playground/hsm"
	"github.com/alovak/atmswitch-playground/internal/cardgen"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

// Administrative registry errors. The transaction path never surfaces
// these; they exist for the operators wiring the network together.
var (
	ErrAlreadyRegistered = fmt.Errorf("entity already registered")
	ErrNotRegistered     = fmt.Errorf("entity not registered")
)

type TransactionType string

const (
	Withdrawal     TransactionType = "WITHDRAWAL"
	BalanceInquiry TransactionType = "BALANCE_INQUIRY"
)

// OpKeyConfig maps a terminal keypad sequence to a transaction type and a
// receipt preference.
type OpKeyConfig struct {
	Keys    string
	Type    TransactionType
	Receipt bool
}

// Authorizer is the decision surface the switch dispatches to after
// cryptogram translation.
type Authorizer interface {
	Name() string
	Authorize(cardNumber string, amount decimal.Decimal, pinCryptogram []byte) (models.WithdrawalResponse, error)
	Inquire(cardNumber string, pinCryptogram []byte) (models.BalanceResponse, error)
}

// Terminal screen texts. Spanish, matching the screens of the deployed
// fleet.
const (
	screenChannelUnavailable = "Lo Sentimos. En este momento no podemos procesar su transacción.\n\nPor favor intente más tarde..."
	screenUnknownOperation   = "Tipo de transacción no reconocido"
	screenInvalidAmount      = "Monto inválido"
	screenIncorrectPin       = "Pin incorrecto"
	screenInsufficientFunds  = "Fondos insuficientes"
	screenExpiredCard        = "Tarjeta expirada"
	screenUnknownCard        = "Tarjeta no reconocida"
	screenOverLimit          = "El monto excede el límite de retiro"
	screenBalancePrefix      = "Su balance actual es: "
)

type authorizerEntry struct {
	authorizer Authorizer
	key        hsm.EncryptedKey
}

// Switch is the transaction router: it keeps the terminal and authorizer
// registries, the BIN routing table and the op-key table, and orchestrates
// the authorization pipeline. Registration is fallible; Authorize is not —
// every fault inside the pipeline degrades to a decline command list.
type Switch struct {
	hsm    *hsm.HSM
	logger *slog.Logger

	mu          sync.RWMutex
	terminals   map[string]hsm.EncryptedKey
	authorizers map[string]authorizerEntry
	routes      map[string]string
	opKeys      map[string]OpKeyConfig
}

func New(h *hsm.HSM, logger *slog.Logger) *Switch {
	return &Switch{
		hsm:         h,
		logger:      logger.With(slog.String("app", "switch")),
		terminals:   make(map[string]hsm.EncryptedKey),
		authorizers: make(map[string]authorizerEntry),
		routes:      make(map[string]string),
		opKeys:      make(map[string]OpKeyConfig),
	}
}

// RegisterTerminal registers a terminal under its HSM-encrypted zone key.
func (s *Switch) RegisterTerminal(terminalID string, key hsm.EncryptedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.terminals[terminalID]; ok {
		return fmt.Errorf("terminal %s: %w", terminalID, ErrAlreadyRegistered)
	}
	s.terminals[terminalID] = key

	s.logger.Info("terminal registered", slog.String("terminal", terminalID))
	return nil
}

func (s *Switch) RemoveTerminal(terminalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.terminals[terminalID]; !ok {
		return fmt.Errorf("terminal %s: %w", terminalID, ErrNotRegistered)
	}
	delete(s.terminals, terminalID)

	s.logger.Info("terminal removed", slog.String("terminal", terminalID))
	return nil
}

// RegisterAuthorizer registers an authorizer under its HSM-encrypted zone
// key.
func (s *Switch) RegisterAuthorizer(authorizer Authorizer, key hsm.EncryptedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := authorizer.Name()
	if _, ok := s.authorizers[name]; ok {
		return fmt.Errorf("authorizer %s: %w", name, ErrAlreadyRegistered)
	}
	s.authorizers[name] = authorizerEntry{authorizer: authorizer, key: key}

	s.logger.Info("authorizer registered", slog.String("authorizer", name))
	return nil
}

func (s *Switch) RemoveAuthorizer(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authorizers[name]; !ok {
		return fmt.Errorf("authorizer %s: %w", name, ErrNotRegistered)
	}
	delete(s.authorizers, name)

	s.logger.Info("authorizer removed", slog.String("authorizer", name))
	return nil
}

// AddRoute upserts the BIN prefix → authorizer mapping. The authorizer name
// is not validated here; it is resolved at transaction time.
func (s *Switch) AddRoute(bin, authorizerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[bin] = authorizerName
}

// AddOpKeyConfig upserts the keypad sequence → transaction config mapping.
func (s *Switch) AddOpKeyConfig(cfg OpKeyConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opKeys[cfg.Keys] = cfg
}

// Authorize runs the transaction pipeline and always returns a well-formed
// command list; every failure mode becomes a decline screen. It never
// panics and never returns an error to the terminal.
func (s *Switch) Authorize(terminalID, keysPressed, cardNumber string, amount decimal.Decimal, pinCryptogram []byte) []Command {
	logger := s.logger.With(
		slog.String("terminal", terminalID),
		slog.String("card", cardgen.MaskPAN(cardNumber)),
	)

	s.mu.RLock()
	opKey, opKeyOK := s.opKeys[keysPressed]
	terminalKey, terminalOK := s.terminals[terminalID]
	entry, authorizerOK := s.lookupAuthorizer(cardNumber)
	s.mu.RUnlock()

	if !opKeyOK {
		logger.Info("declined: unknown op key", slog.String("keys", keysPressed))
		return declineScreen(screenUnknownOperation)
	}
	if !terminalOK || !authorizerOK {
		logger.Info("declined: no trusted path",
			slog.Bool("terminal_registered", terminalOK),
			slog.Bool("authorizer_registered", authorizerOK))
		return declineScreen(screenChannelUnavailable)
	}

	amount = amount.Round(2)
	if opKey.Type == Withdrawal && amount.Sign() <= 0 {
		logger.Info("declined: invalid amount", slog.String("amount", amount.String()))
		return declineScreen(screenInvalidAmount)
	}

	translated, err := s.hsm.TranslateCryptogram(pinCryptogram, terminalKey, entry.key)
	if err != nil {
		logger.Info("declined: cryptogram translation failed", "err", err)
		return declineScreen(screenChannelUnavailable)
	}

	switch opKey.Type {
	case Withdrawal:
		return s.dispatchWithdrawal(logger, entry.authorizer, opKey, terminalID, cardNumber, amount, translated)
	case BalanceInquiry:
		return s.dispatchInquiry(logger, entry.authorizer, cardNumber, translated)
	default:
		logger.Info("declined: unsupported transaction type", slog.String("type", string(opKey.Type)))
		return declineScreen(screenUnknownOperation)
	}
}

func (s *Switch) dispatchWithdrawal(logger *slog.Logger, authorizer Authorizer, opKey OpKeyConfig, terminalID, cardNumber string, amount decimal.Decimal, pinCryptogram []byte) []Command {
	response, err := authorizer.Authorize(cardNumber, amount, pinCryptogram)
	if err != nil {
		logger.Error("authorizer failure", "err", err)
		return declineScreen(screenChannelUnavailable)
	}
	if response.Code != models.ResponseApproved {
		logger.Info("declined by authorizer", slog.Int("code", int(response.Code)))
		return declineScreen(declineText(response.Code))
	}
	if response.AuthorizedAmount == nil || response.BalanceAfter == nil {
		logger.Error("authorizer approved without amounts")
		return declineScreen(screenChannelUnavailable)
	}

	commands := []Command{DispenseCash{Amount: *response.AuthorizedAmount}}
	if opKey.Receipt {
		commands = append(commands, PrintReceipt{
			TransactionID: uuid.New().String(),
			TerminalID:    terminalID,
			MaskedCard:    cardgen.MaskPAN(cardNumber),
			Amount:        *response.AuthorizedAmount,
			BalanceAfter:  *response.BalanceAfter,
			Timestamp:     time.Now(),
		})
	}

	logger.Info("withdrawal approved", slog.String("amount", response.AuthorizedAmount.StringFixed(2)))
	return commands
}

func (s *Switch) dispatchInquiry(logger *slog.Logger, authorizer Authorizer, cardNumber string, pinCryptogram []byte) []Command {
	response, err := authorizer.Inquire(cardNumber, pinCryptogram)
	if err != nil {
		logger.Error("authorizer failure", "err", err)
		return declineScreen(screenChannelUnavailable)
	}
	if response.Code != models.ResponseApproved {
		logger.Info("declined by authorizer", slog.Int("code", int(response.Code)))
		return declineScreen(declineText(response.Code))
	}
	if response.Balance == nil {
		logger.Error("authorizer approved without a balance")
		return declineScreen(screenChannelUnavailable)
	}

	logger.Info("balance inquiry approved")
	return []Command{ShowScreen{
		Text: screenBalancePrefix + response.Balance.StringFixed(2),
	}}
}

// lookupAuthorizer resolves the card's BIN against the routing table using
// longest-prefix match. Callers must hold the read lock.
func (s *Switch) lookupAuthorizer(cardNumber string) (authorizerEntry, bool) {
	best := ""
	for bin := range s.routes {
		if strings.HasPrefix(cardNumber, bin) && len(bin) > len(best) {
			best = bin
		}
	}
	if best == "" {
		return authorizerEntry{}, false
	}
	entry, ok := s.authorizers[s.routes[best]]
	return entry, ok
}

func declineScreen(text string) []Command {
	return []Command{ShowScreen{Text: text, Error: true}}
}

func declineText(code models.ResponseCode) string {
	switch code {
	case models.ResponseInsufficientFunds:
		return screenInsufficientFunds
	case models.ResponseExpiredCard:
		return screenExpiredCard
	case models.ResponseIncorrectPin:
		return screenIncorrectPin
	case models.ResponseUnknownCard:
		return screenUnknownCard
	case models.ResponseOverWithdrawalLimit:
		return screenOverLimit
	default:
		return fmt.Sprintf("Transacción declinada (código %d)", code)
	}
}
