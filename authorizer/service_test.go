package authorizer_test

import (
	"io"
	"testing"

	"github.com/alovak/atmswitch-playground/authorizer"
	"github.com/alovak/atmswitch-playground/authorizer/models"
	"github.com/alovak/atmswitch-playground/hsm"
	"github.com/alovak/atmswitch-playground/internal/cardgen"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

const testBIN = "455555"

type fixture struct {
	hsm        *hsm.HSM
	repo       *authorizer.Repository
	service    *authorizer.Service
	clearKey   hsm.ClearKey
	encryptPin func(t *testing.T, pin string) []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	h, err := hsm.New()
	require.NoError(t, err)

	clear, encrypted, err := h.GenerateKey()
	require.NoError(t, err)

	repo := authorizer.NewRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard))
	service := authorizer.NewService("AutDB", h, repo, authorizer.DefaultConfig(), logger)
	service.InstallKey(encrypted)

	return &fixture{
		hsm:      h,
		repo:     repo,
		service:  service,
		clearKey: clear,
		encryptPin: func(t *testing.T, pin string) []byte {
			t.Helper()
			cryptogram, err := clear.Encrypt([]byte(pin))
			require.NoError(t, err)
			return cryptogram
		},
	}
}

func (f *fixture) createAccountAndCard(t *testing.T, typ models.AccountType, balance, overdraft decimal.Decimal, pin string) string {
	t.Helper()

	account, err := f.service.CreateAccount(typ, balance, overdraft)
	require.NoError(t, err)
	card, err := f.service.CreateCard(testBIN, account)
	require.NoError(t, err)
	require.NoError(t, f.service.AssignPin(card, pin))
	return card
}

func TestAuthorize_SufficientBalance(t *testing.T) {
	f := newFixture(t)
	card := f.createAccountAndCard(t, models.AccountTypeChecking, decimal.NewFromInt(10_000), decimal.Zero, "1234")

	response, err := f.service.Authorize(card, decimal.NewFromInt(5_000), f.encryptPin(t, "1234"))
	require.NoError(t, err)

	require.Equal(t, models.ResponseApproved, response.Code)
	require.NotNil(t, response.AuthorizedAmount)
	require.NotNil(t, response.BalanceAfter)
	require.True(t, response.AuthorizedAmount.Equal(decimal.NewFromInt(5_000)))
	require.True(t, response.BalanceAfter.Equal(decimal.NewFromInt(5_000)))
}

func TestAuthorize_InsufficientBalanceOnSavings(t *testing.T) {
	f := newFixture(t)
	card := f.createAccountAndCard(t, models.AccountTypeSavings, decimal.NewFromInt(1_000), decimal.Zero, "1234")

	response, err := f.service.Authorize(card, decimal.NewFromInt(2_000), f.encryptPin(t, "1234"))
	require.NoError(t, err)

	require.Equal(t, models.ResponseInsufficientFunds, response.Code)
	require.Nil(t, response.AuthorizedAmount)
	require.Nil(t, response.BalanceAfter)
}

func TestAuthorize_CheckingWithinOverdraft(t *testing.T) {
	f := newFixture(t)
	card := f.createAccountAndCard(t, models.AccountTypeChecking, decimal.NewFromInt(10_000), decimal.NewFromInt(300), "1234")

	response, err := f.service.Authorize(card, decimal.NewFromInt(10_200), f.encryptPin(t, "1234"))
	require.NoError(t, err)

	require.Equal(t, models.ResponseApproved, response.Code)
	require.NotNil(t, response.BalanceAfter)
	require.True(t, response.BalanceAfter.Equal(decimal.NewFromInt(-200)))
}

func TestAuthorize_CheckingBeyondOverdraft(t *testing.T) {
	f := newFixture(t)
	card := f.createAccountAndCard(t, models.AccountTypeChecking, decimal.NewFromInt(10_000), decimal.NewFromInt(300), "1234")

	response, err := f.service.Authorize(card, decimal.NewFromInt(15_500), f.encryptPin(t, "1234"))
	require.NoError(t, err)

	require.Equal(t, models.ResponseInsufficientFunds, response.Code)
	require.Nil(t, response.AuthorizedAmount)
	require.Nil(t, response.BalanceAfter)
}

func TestAuthorize_IncorrectPin(t *testing.T) {
	f := newFixture(t)
	card := f.createAccountAndCard(t, models.AccountTypeSavings, decimal.NewFromInt(10_000), decimal.Zero, "1234")

	response, err := f.service.Authorize(card, decimal.NewFromInt(100), f.encryptPin(t, "9999"))
	require.NoError(t, err)

	require.Equal(t, models.ResponseIncorrectPin, response.Code)
	require.Nil(t, response.AuthorizedAmount)

	// balance untouched
	inquiry, err := f.service.Inquire(card, f.encryptPin(t, "1234"))
	require.NoError(t, err)
	require.Equal(t, models.ResponseApproved, inquiry.Code)
	require.True(t, inquiry.Balance.Equal(decimal.NewFromInt(10_000)))
}

func TestAuthorize_OverWithdrawalLimit(t *testing.T) {
	f := newFixture(t)
	f.service.SetWithdrawalLimit(decimal.NewFromInt(5_000))
	card := f.createAccountAndCard(t, models.AccountTypeSavings, decimal.NewFromInt(20_000), decimal.Zero, "1234")

	response, err := f.service.Authorize(card, decimal.NewFromInt(10_000), f.encryptPin(t, "1234"))
	require.NoError(t, err)

	require.Equal(t, models.ResponseOverWithdrawalLimit, response.Code)
	require.Nil(t, response.AuthorizedAmount)
	require.Nil(t, response.BalanceAfter)

	// balance untouched, regardless of sufficient funds
	inquiry, err := f.service.Inquire(card, f.encryptPin(t, "1234"))
	require.NoError(t, err)
	require.True(t, inquiry.Balance.Equal(decimal.NewFromInt(20_000)))
}

func TestAuthorize_RoundsToTwoDecimals(t *testing.T) {
	f := newFixture(t)
	card := f.createAccountAndCard(t, models.AccountTypeSavings, decimal.RequireFromString("6000.029"), decimal.Zero, "1234")

	response, err := f.service.Authorize(card, decimal.RequireFromString("3000.053"), f.encryptPin(t, "1234"))
	require.NoError(t, err)

	require.Equal(t, models.ResponseApproved, response.Code)
	require.Equal(t, "3000.05", response.AuthorizedAmount.StringFixed(2))
	require.Equal(t, "2999.98", response.BalanceAfter.StringFixed(2))
}

func TestAuthorize_UnknownCard(t *testing.T) {
	f := newFixture(t)

	response, err := f.service.Authorize("4555550012345678", decimal.NewFromInt(100), f.encryptPin(t, "1234"))
	require.NoError(t, err)
	require.Equal(t, models.ResponseUnknownCard, response.Code)
}

func TestAuthorize_ExpiredCard(t *testing.T) {
	f := newFixture(t)

	account, err := f.service.CreateAccount(models.AccountTypeSavings, decimal.NewFromInt(10_000), decimal.Zero)
	require.NoError(t, err)

	pan, err := cardgen.GeneratePAN(testBIN, 16, "")
	require.NoError(t, err)
	require.NoError(t, f.repo.CreateCard(&models.Card{
		Number:         pan,
		AccountNumber:  account,
		ExpirationDate: "2001", // January 2020
	}))
	require.NoError(t, f.service.AssignPin(pan, "1234"))

	response, err := f.service.Authorize(pan, decimal.NewFromInt(100), f.encryptPin(t, "1234"))
	require.NoError(t, err)
	require.Equal(t, models.ResponseExpiredCard, response.Code)

	inquiry, err := f.service.Inquire(pan, f.encryptPin(t, "1234"))
	require.NoError(t, err)
	require.Equal(t, models.ResponseExpiredCard, inquiry.Code)
}

func TestInquire(t *testing.T) {
	f := newFixture(t)
	card := f.createAccountAndCard(t, models.AccountTypeChecking, decimal.NewFromInt(10_000), decimal.Zero, "1234")

	t.Run("correct pin returns balance", func(t *testing.T) {
		response, err := f.service.Inquire(card, f.encryptPin(t, "1234"))
		require.NoError(t, err)
		require.Equal(t, models.ResponseApproved, response.Code)
		require.NotNil(t, response.Balance)
		require.True(t, response.Balance.Equal(decimal.NewFromInt(10_000)))
	})

	t.Run("incorrect pin declines with 55", func(t *testing.T) {
		response, err := f.service.Inquire(card, f.encryptPin(t, "9999"))
		require.NoError(t, err)
		require.Equal(t, models.ResponseIncorrectPin, response.Code)
		require.Nil(t, response.Balance)
	})

	t.Run("unknown card declines with 56", func(t *testing.T) {
		response, err := f.service.Inquire("4555550099999990", f.encryptPin(t, "1234"))
		require.NoError(t, err)
		require.Equal(t, models.ResponseUnknownCard, response.Code)
	})
}

func TestCreateAccount_SavingsRejectsOverdraft(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateAccount(models.AccountTypeSavings, decimal.NewFromInt(1_000), decimal.NewFromInt(300))
	require.ErrorIs(t, err, models.ErrNoOverdraftField)
}

func TestCreateCard_NumberIsValid(t *testing.T) {
	f := newFixture(t)

	account, err := f.service.CreateAccount(models.AccountTypeSavings, decimal.NewFromInt(1_000), decimal.Zero)
	require.NoError(t, err)

	card, err := f.service.CreateCard(testBIN, account)
	require.NoError(t, err)

	require.NoError(t, cardgen.ValidatePAN(card))
	require.True(t, len(card) == 16)
	require.Equal(t, testBIN, card[:len(testBIN)])
}

func TestCreateCard_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateCard(testBIN, "0000000000")
	require.ErrorIs(t, err, authorizer.ErrNotFound)
}

func TestAssignPin_Validation(t *testing.T) {
	f := newFixture(t)
	card := f.createAccountAndCard(t, models.AccountTypeSavings, decimal.NewFromInt(1_000), decimal.Zero, "1234")

	require.Error(t, f.service.AssignPin(card, "12"))
	require.Error(t, f.service.AssignPin(card, "12ab"))
	require.Error(t, f.service.AssignPin("4555550012345678", "1234"))
}

func TestListTransactions_RecordsApprovedWithdrawals(t *testing.T) {
	f := newFixture(t)

	account, err := f.service.CreateAccount(models.AccountTypeSavings, decimal.NewFromInt(1_000), decimal.Zero)
	require.NoError(t, err)
	card, err := f.service.CreateCard(testBIN, account)
	require.NoError(t, err)
	require.NoError(t, f.service.AssignPin(card, "1234"))

	_, err = f.service.Authorize(card, decimal.NewFromInt(250), f.encryptPin(t, "1234"))
	require.NoError(t, err)

	transactions, err := f.service.ListTransactions(account)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	require.Equal(t, cardgen.MaskPAN(card), transactions[0].MaskedCard)
	require.True(t, transactions[0].Amount.Equal(decimal.NewFromInt(250)))
	require.NotEmpty(t, transactions[0].ID)
}
