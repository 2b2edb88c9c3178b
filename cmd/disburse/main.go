package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"bankledger/internal/config"
	"bankledger/internal/db"
	"bankledger/internal/logging"
	"bankledger/internal/money"
	"bankledger/internal/services"
	"bankledger/internal/store"
)

func main() {
	accountID := flag.String("account", "", "borrower account id")
	amount := flag.String("amount", "", "loan amount in naira, e.g. 25000.00")
	purpose := flag.String("purpose", "", "loan purpose shown in the narration")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	minor, err := money.ParseMinor(*amount)
	if err != nil {
		logger.Fatal("invalid amount", zap.String("amount", *amount), zap.Error(err))
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores := services.Stores{
		Users:        store.NewUserStore(database),
		Accounts:     store.NewAccountStore(database),
		Pools:        store.NewPoolStore(database),
		Externals:    store.NewExternalAccountStore(database),
		Payments:     store.NewPaymentStore(database),
		Transactions: store.NewTransactionStore(database),
		Outbox:       store.NewOutboxStore(database),
	}
	txRunner := db.NewTxRunner(database, logger)
	clock := services.SystemClock{}
	transfers := services.NewTransferService(txRunner, stores, clock, nil)
	loans := services.NewLoanService(txRunner, stores, transfers, clock, nil, cfg.LendingPoolID)

	payment, err := loans.Disburse(ctx, services.LoanDisbursement{
		BorrowerAccountID: *accountID,
		Amount:            minor,
		Purpose:           *purpose,
	})
	if err != nil {
		logger.Fatal("loan disbursement failed", zap.String("account_id", *accountID), zap.Error(err))
	}
	logger.Info("loan disbursed",
		zap.String("account_id", *accountID),
		zap.String("reference", payment.Reference),
		zap.String("amount", money.FormatMinor(payment.Amount)),
	)
}
