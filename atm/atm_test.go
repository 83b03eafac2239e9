package atm_test

import (
	"io"
	"testing"
	"time"

	"github.com/alovak/atmswitch-playground/atm"
	"github.com/alovak/atmswitch-playground/atmswitch"
	"github.com/alovak/atmswitch-playground/authorizer"
	"github.com/alovak/atmswitch-playground/authorizer/models"
	"github.com/alovak/atmswitch-playground/hsm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type fakeConsole struct {
	lines []string
}

func (c *fakeConsole) WriteLine(text string) {
	c.lines = append(c.lines, text)
}

type fakeSleeper struct {
	slept []time.Duration
}

func (s *fakeSleeper) Sleep(d time.Duration) {
	s.slept = append(s.slept, d)
}

type harness struct {
	terminal *atm.ATM
	console  *fakeConsole
	sleeper  *fakeSleeper
	card     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h, err := hsm.New()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard))

	sw := atmswitch.New(h, logger)
	sw.AddOpKeyConfig(atmswitch.OpKeyConfig{Keys: "AAA", Type: atmswitch.Withdrawal, Receipt: true})
	sw.AddOpKeyConfig(atmswitch.OpKeyConfig{Keys: "AAC", Type: atmswitch.Withdrawal, Receipt: false})
	sw.AddOpKeyConfig(atmswitch.OpKeyConfig{Keys: "B", Type: atmswitch.BalanceInquiry, Receipt: false})

	service := authorizer.NewService("AutDB", h, authorizer.NewRepository(), authorizer.DefaultConfig(), logger)
	_, serviceKey, err := h.GenerateKey()
	require.NoError(t, err)
	service.InstallKey(serviceKey)
	require.NoError(t, sw.RegisterAuthorizer(service, serviceKey))
	sw.AddRoute("459413", service.Name())

	account, err := service.CreateAccount(models.AccountTypeSavings, decimal.NewFromInt(20_000), decimal.Zero)
	require.NoError(t, err)
	card, err := service.CreateCard("459413", account)
	require.NoError(t, err)
	require.NoError(t, service.AssignPin(card, "1234"))

	console := &fakeConsole{}
	sleeper := &fakeSleeper{}
	terminal := atm.New("AJP001", sw, console, sleeper, logger)

	terminalKey, terminalRegistryKey, err := h.GenerateKey()
	require.NoError(t, err)
	terminal.InstallKey(terminalKey)
	require.NoError(t, sw.RegisterTerminal(terminal.ID(), terminalRegistryKey))

	return &harness{terminal: terminal, console: console, sleeper: sleeper, card: card}
}

func TestSendTransactionRequest_Withdrawal(t *testing.T) {
	h := newHarness(t)

	err := h.terminal.SendTransactionRequest("AAC", h.card, "1234", decimal.NewFromInt(200))
	require.NoError(t, err)

	require.Equal(t, []string{"> Efectivo dispensado: 200.00", ""}, h.console.lines)
	require.Equal(t, []time.Duration{time.Second}, h.sleeper.slept)
}

func TestSendTransactionRequest_WithdrawalWithReceipt(t *testing.T) {
	h := newHarness(t)

	err := h.terminal.SendTransactionRequest("AAA", h.card, "1234", decimal.NewFromInt(200))
	require.NoError(t, err)

	require.Equal(t, "> Efectivo dispensado: 200.00", h.console.lines[0])
	require.Equal(t, "> Imprimiendo recibo...", h.console.lines[1])
	require.Contains(t, h.console.lines, "  Terminal: AJP001")
	require.Contains(t, h.console.lines, "  Retiro:   200.00")
	require.Contains(t, h.console.lines, "  Balance:  19800.00")
	require.Equal(t, []time.Duration{time.Second, 500 * time.Millisecond}, h.sleeper.slept)
}

func TestSendTransactionRequest_BalanceInquiry(t *testing.T) {
	h := newHarness(t)

	err := h.terminal.SendTransactionRequest("B", h.card, "1234", decimal.Zero)
	require.NoError(t, err)

	require.Equal(t, []string{"Su balance actual es: 20000.00", ""}, h.console.lines)
	require.Empty(t, h.sleeper.slept)
}

func TestSendTransactionRequest_DeclineShowsScreen(t *testing.T) {
	h := newHarness(t)

	err := h.terminal.SendTransactionRequest("AAC", h.card, "9999", decimal.NewFromInt(200))
	require.NoError(t, err)

	require.Equal(t, []string{"Pin incorrecto", ""}, h.console.lines)
	require.Empty(t, h.sleeper.slept)
}
