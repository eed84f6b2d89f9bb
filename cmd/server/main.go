package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"florahub-be/internal/api"
	"florahub-be/internal/config"
	"florahub-be/internal/db"
	"florahub-be/internal/escrow"
	"florahub-be/internal/gateway"
	"florahub-be/internal/idempotency"
	"florahub-be/internal/logger"
	"florahub-be/internal/order"
	"florahub-be/internal/reconcile"
	"florahub-be/internal/refund"
	"florahub-be/internal/review"
	"florahub-be/internal/user"
	"florahub-be/internal/wallet"
	"florahub-be/internal/webhook"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := db.InitDB(cfg)
	defer database.Close()

	vnpay := gateway.NewVNPay(
		cfg.VNPayTmnCode, cfg.VNPayHashSecret,
		cfg.VNPayPayURL, cfg.VNPayRefundURL, cfg.VNPayReturnURL,
	)
	payos := gateway.NewPayOS(cfg.PayOSClientID, cfg.PayOSAPIKey, cfg.PayOSChecksumKey)
	payments := gateway.NewPayments(vnpay, payos, cfg.PayOSReturnURL, cfg.PayOSCancelURL)

	userRepo := user.NewRepository(database)
	userSvc := user.NewService(userRepo, cfg.JWTSecret)

	orderRepo := order.NewRepository(database)
	orderSvc := order.NewService(orderRepo, payments)

	walletRepo := wallet.NewRepository(database)
	ledger := idempotency.NewLedger(database)

	escrowRepo := escrow.NewRepository(database, walletRepo, ledger)
	escrowSvc := escrow.NewService(escrowRepo, orderRepo, cfg.CommissionBps)

	reviewSvc := review.NewService(database, orderRepo, escrowSvc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PayOS has no merchant refund API; its refund jobs escalate straight
	// to disputed for manual handling.
	refundWorker := refund.NewWorker(database, map[gateway.Provider]gateway.RefundClient{
		gateway.ProviderVNPay: vnpay,
	}, cfg.RefundMaxAttempts)
	refundWorker.Start(ctx)

	reconcileJob := reconcile.NewJob(orderRepo, escrowSvc, walletRepo, cfg.AutoCompleteDays)
	reconcileJob.Start(ctx)

	handler := api.NewHandler(userSvc, orderSvc, escrowSvc, reviewSvc, walletRepo)
	webhookHandler := webhook.NewHandler(vnpay, payos, escrowSvc)
	router := api.NewRouter(handler, webhookHandler, cfg.JWTSecret)

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.L().Info("server listening", zap.String("port", cfg.AppPort))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}
