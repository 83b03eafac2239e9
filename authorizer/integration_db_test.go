package authorizer_test

import (
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/alovak/atmswitch-playground/authorizer"
	"github.com/alovak/atmswitch-playground/authorizer/models"
	"github.com/alovak/atmswitch-playground/internal/cardgen"
	"github.com/alovak/atmswitch-playground/internal/expiry"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// openTestDB skips unless REPO_BACKEND=pg and DB_DSN point at a database
// with the authorizer schema loaded.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if os.Getenv("REPO_BACKEND") != "pg" {
		t.Skip("REPO_BACKEND != pg; skipping DB integration test")
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN not set; skipping DB integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Ping(); err != nil {
		t.Fatalf("ping db: %v", err)
	}
	return db
}

// TestCardStoredHashedWithYYMM verifies that the cards table carries only a
// PAN hash plus last4 and that expiry_yymm is stored as YYMM.
func TestCardStoredHashedWithYYMM(t *testing.T) {
	db := openTestDB(t)

	hashKey := []byte("test-pan-hash-key")
	repo := authorizer.NewPGRepository(db, hashKey)

	number, err := cardgen.RandomDigits(10)
	if err != nil {
		t.Fatalf("account number: %v", err)
	}
	account, err := models.NewAccount(number, models.AccountTypeSavings, decimal.NewFromInt(10_000), decimal.Zero)
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if err := repo.CreateAccount(account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	pan, err := cardgen.GeneratePAN("459413", 16, cardgen.LastN(account.Number, 4))
	if err != nil {
		t.Fatalf("generate pan: %v", err)
	}
	yymm := expiry.YYMM(time.Now(), 5)
	if err := repo.CreateCard(&models.Card{Number: pan, AccountNumber: account.Number, ExpirationDate: yymm}); err != nil {
		t.Fatalf("create card: %v", err)
	}

	hash := cardgen.HashPANHMAC(pan, hashKey)
	var last4, expiryYYMM string
	row := db.QueryRow(`select last4, expiry_yymm from authorizer.cards where pan_hash=$1`, hash)
	if err := row.Scan(&last4, &expiryYYMM); err != nil {
		t.Fatalf("scan card row: %v", err)
	}
	if last4 != pan[len(pan)-4:] {
		t.Fatalf("last4 = %q want %q", last4, pan[len(pan)-4:])
	}
	if len(expiryYYMM) != 4 {
		t.Fatalf("expiry_yymm length = %d want 4, got %q", len(expiryYYMM), expiryYYMM)
	}
	if mm := expiryYYMM[2:]; mm < "01" || mm > "12" {
		t.Fatalf("expiry_yymm month invalid: %q (full %q)", mm, expiryYYMM)
	}
	if expiryYYMM != yymm {
		t.Fatalf("expiry_yymm mismatch: db=%s want=%s", expiryYYMM, yymm)
	}

	// the clear PAN must not appear anywhere in the row key
	var count int
	if err := db.QueryRow(`select count(*) from authorizer.cards where pan_hash=$1`, []byte(pan)).Scan(&count); err != nil {
		t.Fatalf("scan count: %v", err)
	}
	if count != 0 {
		t.Fatalf("found a card keyed by the clear PAN")
	}
}

// TestDebitAccountEnforcesFloorInDB verifies the single-statement debit:
// the balance floor check and the balance move happen atomically.
func TestDebitAccountEnforcesFloorInDB(t *testing.T) {
	db := openTestDB(t)

	repo := authorizer.NewPGRepository(db, []byte("test-pan-hash-key"))

	number, err := cardgen.RandomDigits(10)
	if err != nil {
		t.Fatalf("account number: %v", err)
	}
	account, err := models.NewAccount(number, models.AccountTypeChecking, decimal.NewFromInt(100), decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if err := repo.CreateAccount(account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	balance, err := repo.DebitAccount(account.Number, decimal.NewFromInt(150))
	if err != nil {
		t.Fatalf("debit to floor: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("balance = %s want -50", balance)
	}

	if _, err := repo.DebitAccount(account.Number, decimal.NewFromInt(1)); err != models.ErrInsufficientFunds {
		t.Fatalf("debit past floor: err = %v want ErrInsufficientFunds", err)
	}

	if _, err := repo.DebitAccount("0000000000", decimal.NewFromInt(1)); err != authorizer.ErrNotFound {
		t.Fatalf("debit missing account: err = %v want ErrNotFound", err)
	}
}
