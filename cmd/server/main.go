package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sedefspa/loyalty-service/pkg/config"
	"github.com/sedefspa/loyalty-service/pkg/coupon"
	"github.com/sedefspa/loyalty-service/pkg/database"
	"github.com/sedefspa/loyalty-service/pkg/handlers"
	"github.com/sedefspa/loyalty-service/pkg/phone"
	"github.com/sedefspa/loyalty-service/pkg/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.AdminKey == "" || cfg.JWTSecret == "" {
		logrus.Fatal("ADMIN_KEY and JWT_SECRET must be set")
	}

	db, err := database.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	couponRepo := repository.NewCouponRepository(db)
	policyRepo := repository.NewPolicyRepository(db)
	eventRepo := repository.NewEventRepository(db)
	limitRepo := repository.NewRateLimitRepository(db)

	normalizer := phone.NewNormalizer(cfg.CountryCode, cfg.LocalNumberLength)
	orchestrator := coupon.New(couponRepo, policyRepo, eventRepo, normalizer)

	couponHandler := handlers.NewCouponHandler(orchestrator, limitRepo, eventRepo, cfg.ConsumeDailyLimit, cfg.ClaimDailyLimit)
	adminHandler := handlers.NewAdminHandler(policyRepo, eventRepo)
	authHandler := handlers.NewAuthHandler(cfg.AdminKey, cfg.JWTSecret)

	router := gin.Default()
	router.POST("/coupons/consume", couponHandler.ConsumeCoupon)
	router.POST("/coupons/claim", couponHandler.ClaimCoupon)
	router.POST("/admin/login", authHandler.Login)

	admin := router.Group("/admin", authHandler.Middleware())
	{
		admin.GET("/policy", adminHandler.GetPolicy)
		admin.PUT("/policy/settings", adminHandler.UpdateSettings)
		admin.POST("/policy/tiers", adminHandler.CreateTier)
		admin.PUT("/policy/tiers/:id", adminHandler.UpdateTier)
		admin.DELETE("/policy/tiers/:id", adminHandler.DeleteTier)
		admin.GET("/events", adminHandler.ListEvents)
	}

	// Maintenance sweeps owned by the process lifecycle: stale token expiry
	// and rate-limit counter cleanup.
	go runSweeps(ctx, cfg.SweepInterval, orchestrator, limitRepo)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logrus.Infof("Starting service on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start service: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("Service forced to shutdown: %v", err)
	}

	logrus.Info("Service exited")
}

func runSweeps(ctx context.Context, interval time.Duration, orchestrator *coupon.Orchestrator, limits *repository.RateLimitRepository) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := orchestrator.ExpireSweep(ctx)
			if err != nil {
				logrus.WithError(err).Error("Token expire sweep failed")
			} else if expired > 0 {
				logrus.WithField("expired", expired).Info("Expired stale coupon tokens")
			}

			// Counters whose window ended over 48h ago are unreachable; the
			// window resets transparently on access, so this only bounds
			// storage growth.
			deleted, err := limits.Sweep(ctx, time.Now().Add(-48*time.Hour))
			if err != nil {
				logrus.WithError(err).Error("Rate-limit counter sweep failed")
			} else if deleted > 0 {
				logrus.WithField("deleted", deleted).Info("Swept expired rate-limit counters")
			}
		}
	}
}
