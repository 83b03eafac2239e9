package authorizer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alovak/atmswitch-playground/authorizer/models"
	"github.com/alovak/atmswitch-playground/hsm"
	"github.com/alovak/atmswitch-playground/internal/cardgen"
	"github.com/alovak/atmswitch-playground/internal/expiry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

const accountNumberLen = 10

// Service owns account and card issuance for one institution and makes the
// authorization decisions. It never sees a clear zone key or a clear PIN
// after assignment: cryptogram work is delegated to the HSM against the
// service's encrypted zone key.
type Service struct {
	name   string
	hsm    *hsm.HSM
	repo   *Repository
	cfg    *Config
	logger *slog.Logger

	mu              sync.RWMutex
	key             hsm.EncryptedKey
	withdrawalLimit *decimal.Decimal
}

func NewService(name string, h *hsm.HSM, repo *Repository, cfg *Config, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		name:   name,
		hsm:    h,
		repo:   repo,
		cfg:    cfg,
		logger: logger.With(slog.String("authorizer", name)),
	}
}

func (s *Service) Name() string {
	return s.name
}

// InstallKey hands the service its HSM-encrypted zone key. The clear form
// stays with the HSM; the service only ever forwards this blob.
func (s *Service) InstallKey(key hsm.EncryptedKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
}

// SetWithdrawalLimit sets the per-transaction withdrawal ceiling. It is
// checked before any balance rule.
func (s *Service) SetWithdrawalLimit(amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rounded := amount.Round(2)
	s.withdrawalLimit = &rounded
}

// CreateAccount opens an account and returns its number. Only checking
// accounts accept an overdraft limit.
func (s *Service) CreateAccount(typ models.AccountType, initialBalance, overdraftLimit decimal.Decimal) (string, error) {
	number, err := cardgen.RandomDigits(accountNumberLen)
	if err != nil {
		return "", fmt.Errorf("generating account number: %w", err)
	}
	account, err := models.NewAccount(number, typ, initialBalance, overdraftLimit)
	if err != nil {
		return "", fmt.Errorf("opening account: %w", err)
	}
	if err := s.repo.CreateAccount(account); err != nil {
		return "", fmt.Errorf("creating account: %w", err)
	}

	s.logger.Info("account created",
		slog.String("account", number),
		slog.String("type", string(typ)))

	return number, nil
}

func (s *Service) GetAccount(number string) (*models.Account, error) {
	account, err := s.repo.GetAccount(number)
	if err != nil {
		return nil, fmt.Errorf("finding account: %w", err)
	}
	return account, nil
}

// CreateCard mints a card for an existing account: BIN, an account-derived
// body and a valid check digit, stamped with the configured validity.
func (s *Service) CreateCard(bin, accountNumber string) (string, error) {
	if _, err := s.repo.GetAccount(accountNumber); err != nil {
		return "", fmt.Errorf("finding account: %w", err)
	}

	exists := func(pan string) (bool, error) { return s.repo.ExistsCardNumber(pan) }
	sequence := cardgen.LastN(accountNumber, 4)
	pan, err := cardgen.GenerateUniquePAN(bin, s.cfg.CardLength, sequence, 10, exists)
	if err != nil {
		return "", fmt.Errorf("generating pan: %w", err)
	}

	card := &models.Card{
		Number:         pan,
		AccountNumber:  accountNumber,
		ExpirationDate: expiry.YYMM(time.Now(), s.cfg.CardValidityYears),
	}
	if err := s.repo.CreateCard(card); err != nil {
		return "", fmt.Errorf("creating card: %w", err)
	}

	s.logger.Info("card issued",
		slog.String("card", cardgen.MaskPAN(pan)),
		slog.String("account", accountNumber))

	return pan, nil
}

// AssignPin stores a verifiable PIN reference for the card. The reference
// is derived inside the HSM under this service's own key material; the PIN
// itself is not kept in any form.
func (s *Service) AssignPin(cardNumber, pin string) error {
	if l := len(pin); l < 4 || l > 6 || !cardgen.IsDigits(pin) {
		return fmt.Errorf("pin must be 4..6 digits")
	}
	key, err := s.installedKey()
	if err != nil {
		return err
	}
	if _, err := s.repo.GetCard(cardNumber); err != nil {
		return fmt.Errorf("finding card: %w", err)
	}
	ref, err := s.hsm.DerivePinReference(pin, key)
	if err != nil {
		return fmt.Errorf("deriving pin reference: %w", err)
	}
	if err := s.repo.SavePinReference(cardNumber, ref); err != nil {
		return fmt.Errorf("saving pin reference: %w", err)
	}
	return nil
}

// ListTransactions returns the approved withdrawals for an account.
func (s *Service) ListTransactions(accountNumber string) ([]*models.Transaction, error) {
	transactions, err := s.repo.ListTransactions(accountNumber)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return transactions, nil
}

// Authorize decides a withdrawal. Decision order: card lookup, expiry, PIN,
// amount rounding, withdrawal limit, balance rule. Business declines are
// response codes; the returned error is reserved for infrastructure faults.
func (s *Service) Authorize(cardNumber string, amount decimal.Decimal, pinCryptogram []byte) (models.WithdrawalResponse, error) {
	card, code, err := s.admitCard(cardNumber, pinCryptogram)
	if code != models.ResponseApproved || err != nil {
		return models.WithdrawalResponse{Code: code}, err
	}

	amount = amount.Round(2)
	if amount.Sign() <= 0 {
		return models.WithdrawalResponse{}, fmt.Errorf("amount must be positive")
	}

	s.mu.RLock()
	limit := s.withdrawalLimit
	s.mu.RUnlock()
	if limit != nil && amount.GreaterThan(*limit) {
		return models.WithdrawalResponse{Code: models.ResponseOverWithdrawalLimit}, nil
	}

	balance, err := s.repo.DebitAccount(card.AccountNumber, amount)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientFunds) {
			return models.WithdrawalResponse{Code: models.ResponseInsufficientFunds}, nil
		}
		if errors.Is(err, ErrNotFound) {
			return models.WithdrawalResponse{Code: models.ResponseUnknownCard}, nil
		}
		return models.WithdrawalResponse{}, fmt.Errorf("debiting account: %w", err)
	}

	transaction := &models.Transaction{
		ID:            uuid.New().String(),
		AccountNumber: card.AccountNumber,
		MaskedCard:    cardgen.MaskPAN(cardNumber),
		Amount:        amount,
		BalanceAfter:  balance,
		CreatedAt:     time.Now(),
	}
	if err := s.repo.CreateTransaction(transaction); err != nil {
		s.logger.Error("recording transaction", "err", err)
	}

	s.logger.Info("withdrawal approved",
		slog.String("card", transaction.MaskedCard),
		slog.String("amount", amount.StringFixed(2)))

	return models.WithdrawalResponse{
		AuthorizedAmount: &amount,
		BalanceAfter:     &balance,
		Code:             models.ResponseApproved,
	}, nil
}

// Inquire decides a balance inquiry.
func (s *Service) Inquire(cardNumber string, pinCryptogram []byte) (models.BalanceResponse, error) {
	card, code, err := s.admitCard(cardNumber, pinCryptogram)
	if code != models.ResponseApproved || err != nil {
		return models.BalanceResponse{Code: code}, err
	}

	account, err := s.repo.GetAccount(card.AccountNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.BalanceResponse{Code: models.ResponseUnknownCard}, nil
		}
		return models.BalanceResponse{}, fmt.Errorf("finding account: %w", err)
	}

	balance := account.Balance()
	return models.BalanceResponse{Balance: &balance, Code: models.ResponseApproved}, nil
}

// admitCard runs the checks shared by both operations: the card must be
// issued here, not expired, and the PIN cryptogram must verify against the
// stored reference. A card without an assigned PIN verifies as a mismatch.
func (s *Service) admitCard(cardNumber string, pinCryptogram []byte) (*models.Card, models.ResponseCode, error) {
	card, err := s.repo.GetCard(cardNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, models.ResponseUnknownCard, nil
		}
		return nil, 0, fmt.Errorf("finding card: %w", err)
	}

	expired, err := expiry.IsExpired(card.ExpirationDate, time.Now())
	if err != nil || expired {
		return nil, models.ResponseExpiredCard, nil
	}

	ref, err := s.repo.GetPinReference(cardNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, models.ResponseIncorrectPin, nil
		}
		return nil, 0, fmt.Errorf("finding pin reference: %w", err)
	}
	key, err := s.installedKey()
	if err != nil {
		return nil, 0, err
	}
	ok, err := s.hsm.VerifyPin(pinCryptogram, key, ref)
	if err != nil {
		return nil, 0, fmt.Errorf("verifying pin: %w", err)
	}
	if !ok {
		return nil, models.ResponseIncorrectPin, nil
	}
	return card, models.ResponseApproved, nil
}

func (s *Service) installedKey() (hsm.EncryptedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.key) == 0 {
		return nil, fmt.Errorf("zone key is not installed")
	}
	return s.key, nil
}
