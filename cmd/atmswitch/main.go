package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alovak/atmswitch-playground/atm"
	"github.com/alovak/atmswitch-playground/atmswitch"
	"github.com/alovak/atmswitch-playground/authorizer"
	"github.com/alovak/atmswitch-playground/authorizer/models"
	"github.com/alovak/atmswitch-playground/hsm"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

const bin = "459413"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout))

	if err := run(logger); err != nil {
		logger.Error("run", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	h, err := hsm.New()
	if err != nil {
		return err
	}

	network := atmswitch.New(h, logger)
	network.AddOpKeyConfig(atmswitch.OpKeyConfig{Keys: "AAA", Type: atmswitch.Withdrawal, Receipt: true})
	network.AddOpKeyConfig(atmswitch.OpKeyConfig{Keys: "AAC", Type: atmswitch.Withdrawal, Receipt: false})
	network.AddOpKeyConfig(atmswitch.OpKeyConfig{Keys: "B", Type: atmswitch.BalanceInquiry, Receipt: false})

	app := authorizer.NewApp(logger, "AutDB", h, configFromEnv())
	if err := app.Start(); err != nil {
		return err
	}
	defer app.Shutdown()

	auth := app.Service()
	_, authorizerKey, err := h.GenerateKey()
	if err != nil {
		return err
	}
	auth.InstallKey(authorizerKey)
	if err := network.RegisterAuthorizer(auth, authorizerKey); err != nil {
		return err
	}
	network.AddRoute(bin, auth.Name())

	terminalKey, terminalRegistryKey, err := h.GenerateKey()
	if err != nil {
		return err
	}
	terminal := atm.New("AJP001", network, atm.NewConsoleWriter(os.Stdout), atm.NewSleeper(), logger)
	terminal.InstallKey(terminalKey)
	if err := network.RegisterTerminal(terminal.ID(), terminalRegistryKey); err != nil {
		return err
	}

	// seed a demo account and run one session of each kind
	account, err := auth.CreateAccount(models.AccountTypeSavings, decimal.NewFromInt(20_000), decimal.Zero)
	if err != nil {
		return err
	}
	card, err := auth.CreateCard(bin, account)
	if err != nil {
		return err
	}
	if err := auth.AssignPin(card, "1234"); err != nil {
		return err
	}

	if err := terminal.SendTransactionRequest("AAA", card, "1234", decimal.NewFromInt(200)); err != nil {
		return err
	}
	if err := terminal.SendTransactionRequest("B", card, "1234", decimal.Zero); err != nil {
		return err
	}

	logger.Info("admin api ready", slog.String("addr", app.Addr))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	return nil
}

func configFromEnv() *authorizer.Config {
	cfg := authorizer.DefaultConfig()
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.RepoBackend = getenv("REPO_BACKEND", cfg.RepoBackend)
	cfg.DBDSN = getenv("DB_DSN", cfg.DBDSN)
	cfg.PANHashKey = getenv("PAN_HASH_KEY", "dev-secret-pepper")
	if v, err := strconv.Atoi(getenv("CARD_VALIDITY_YEARS", "")); err == nil && v > 0 {
		cfg.CardValidityYears = v
	}
	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
