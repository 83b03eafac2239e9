package authorizer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/alovak/atmswitch-playground/authorizer/models"
	"github.com/alovak/atmswitch-playground/internal/cardgen"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = fmt.Errorf("not found")
	ErrConflict = fmt.Errorf("conflict")
)

// Repository stores one authorizer's accounts, cards and PIN references.
// The default backend is in-memory; a Postgres backend is used when a *sql.DB
// is provided. Cards are stored under an HMAC of the PAN in the db backend so
// the clear number never lands in a table.
type Repository struct {
	mu           sync.RWMutex
	accounts     map[string]*models.Account
	cards        map[string]*models.Card
	pins         map[string][]byte
	transactions []*models.Transaction

	db      *sql.DB
	hashKey []byte
}

func NewRepository() *Repository {
	return &Repository{
		accounts: make(map[string]*models.Account),
		cards:    make(map[string]*models.Card),
		pins:     make(map[string][]byte),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB, hashKey []byte) *Repository {
	return &Repository{db: db, hashKey: hashKey}
}

func (r *Repository) CreateAccount(account *models.Account) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.accounts[account.Number]; ok {
			return fmt.Errorf("account number exists: %w", ErrConflict)
		}
		r.accounts[account.Number] = account
		return nil
	}
	overdraft := decimal.Zero
	if account.Type == models.AccountTypeChecking {
		overdraft, _ = account.OverdraftLimit()
	}
	_, err := r.db.ExecContext(context.Background(), `
        INSERT INTO authorizer.accounts(account_number, account_type, balance, overdraft_limit)
        VALUES ($1,$2,$3,$4)
    `, account.Number, string(account.Type), account.Balance(), overdraft)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *Repository) GetAccount(number string) (*models.Account, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		account, ok := r.accounts[number]
		if !ok {
			return nil, ErrNotFound
		}
		return account, nil
	}
	row := r.db.QueryRowContext(context.Background(), `
        SELECT account_number, account_type, balance, overdraft_limit
          FROM authorizer.accounts WHERE account_number=$1
    `, number)
	var num, typ string
	var balance, overdraft decimal.Decimal
	if err := row.Scan(&num, &typ, &balance, &overdraft); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return models.NewAccount(num, models.AccountType(typ), balance, overdraft)
}

// DebitAccount withdraws amount atomically and returns the resulting
// balance. The balance floor (zero, or the negated overdraft limit for
// checking accounts) is enforced by the same operation that moves the money.
func (r *Repository) DebitAccount(number string, amount decimal.Decimal) (decimal.Decimal, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		account, ok := r.accounts[number]
		if !ok {
			return decimal.Decimal{}, ErrNotFound
		}
		if err := account.Debit(amount); err != nil {
			return decimal.Decimal{}, err
		}
		return account.Balance(), nil
	}
	row := r.db.QueryRowContext(context.Background(), `
        UPDATE authorizer.accounts
           SET balance = round(balance - $2, 2), updated_at = now()
         WHERE account_number=$1 AND balance - $2 >= -overdraft_limit
        RETURNING balance
    `, number, amount)
	var balance decimal.Decimal
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// either the account is missing or the floor blocked the debit
			if _, getErr := r.GetAccount(number); getErr != nil {
				return decimal.Decimal{}, getErr
			}
			return decimal.Decimal{}, models.ErrInsufficientFunds
		}
		return decimal.Decimal{}, err
	}
	return balance, nil
}

func (r *Repository) CreateCard(card *models.Card) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.cards[card.Number]; ok {
			return fmt.Errorf("card number exists: %w", ErrConflict)
		}
		r.cards[card.Number] = card
		return nil
	}
	pan := cardgen.NormalizePAN(card.Number)
	hash := cardgen.HashPANHMAC(pan, r.hashKey)
	_, err := r.db.ExecContext(context.Background(), `
        INSERT INTO authorizer.cards(pan_hash, account_number, last4, expiry_yymm)
        VALUES ($1,$2,$3,$4)
    `, hash, card.AccountNumber, cardgen.LastN(pan, 4), card.ExpirationDate)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// ExistsCardNumber reports whether a PAN is already issued.
func (r *Repository) ExistsCardNumber(pan string) (bool, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		_, ok := r.cards[pan]
		return ok, nil
	}
	hash := cardgen.HashPANHMAC(cardgen.NormalizePAN(pan), r.hashKey)
	var one int
	err := r.db.QueryRowContext(context.Background(),
		`SELECT 1 FROM authorizer.cards WHERE pan_hash=$1`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *Repository) GetCard(pan string) (*models.Card, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		card, ok := r.cards[pan]
		if !ok {
			return nil, ErrNotFound
		}
		return card, nil
	}
	hash := cardgen.HashPANHMAC(cardgen.NormalizePAN(pan), r.hashKey)
	row := r.db.QueryRowContext(context.Background(), `
        SELECT account_number, expiry_yymm FROM authorizer.cards WHERE pan_hash=$1
    `, hash)
	var accountNumber, expiry string
	if err := row.Scan(&accountNumber, &expiry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &models.Card{Number: pan, AccountNumber: accountNumber, ExpirationDate: expiry}, nil
}

func (r *Repository) SavePinReference(pan string, ref []byte) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.cards[pan]; !ok {
			return ErrNotFound
		}
		r.pins[pan] = ref
		return nil
	}
	hash := cardgen.HashPANHMAC(cardgen.NormalizePAN(pan), r.hashKey)
	res, err := r.db.ExecContext(context.Background(),
		`UPDATE authorizer.cards SET pin_reference=$2 WHERE pan_hash=$1`, hash, ref)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetPinReference(pan string) ([]byte, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		ref, ok := r.pins[pan]
		if !ok {
			return nil, ErrNotFound
		}
		return ref, nil
	}
	hash := cardgen.HashPANHMAC(cardgen.NormalizePAN(pan), r.hashKey)
	var ref []byte
	err := r.db.QueryRowContext(context.Background(),
		`SELECT pin_reference FROM authorizer.cards WHERE pan_hash=$1`, hash).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(ref) == 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (r *Repository) CreateTransaction(transaction *models.Transaction) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.transactions = append(r.transactions, transaction)
		return nil
	}
	_, err := r.db.ExecContext(context.Background(), `
        INSERT INTO authorizer.transactions(tx_id, account_number, masked_card, amount, balance_after, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
    `, transaction.ID, transaction.AccountNumber, transaction.MaskedCard,
		transaction.Amount, transaction.BalanceAfter, transaction.CreatedAt)
	return err
}

// ListTransactions returns all transactions for a given account number.
func (r *Repository) ListTransactions(accountNumber string) ([]*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var transactions []*models.Transaction
		for _, t := range r.transactions {
			if t.AccountNumber == accountNumber {
				transactions = append(transactions, t)
			}
		}
		return transactions, nil
	}
	rows, err := r.db.QueryContext(context.Background(), `
        SELECT tx_id, account_number, masked_card, amount, balance_after, created_at
          FROM authorizer.transactions WHERE account_number=$1 ORDER BY created_at DESC
    `, accountNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountNumber, &t.MaskedCard, &t.Amount, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Ping returns backend readiness.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
