package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flavorfleet/config"
	"flavorfleet/internal/auth"
	"flavorfleet/internal/database"
	"flavorfleet/internal/otp"
	"flavorfleet/internal/repository"
	"flavorfleet/internal/router"
	"flavorfleet/internal/service"
	"flavorfleet/internal/worker"
	"flavorfleet/internal/ws"
	"flavorfleet/pkg/cloudinary"
	"flavorfleet/pkg/mailer"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type stores struct {
	users         service.UserStore
	notifications service.NotificationStore
	campaigns     service.CampaignStore
	orders        service.OrderStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := newLogger(cfg.Server.Env)
	defer func() { _ = log.Sync() }()

	st, err := openStores(cfg, log)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	otps, err := openOTPStore(cfg, log)
	if err != nil {
		log.Fatal("otp store", zap.Error(err))
	}
	mail, err := newMailer(cfg, log)
	if err != nil {
		log.Fatal("mailer", zap.Error(err))
	}
	var cloud cloudinary.Client
	if cfg.Cloudinary.CloudName != "" {
		cloud, err = cloudinary.NewClientFromParams(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret)
		if err != nil {
			log.Fatal("cloudinary", zap.Error(err))
		}
	} else {
		log.Info("cloudinary not configured, campaign image uploads disabled")
	}

	hub := ws.NewHub(cfg.Notifications.LiveIdleTimeout, log.Named("ws"))
	notifSvc := service.NewNotificationService(st.users, st.notifications, st.campaigns, hub, mail,
		cfg.Notifications.DeliveryWorkers, log.Named("notifications"))
	authSvc := service.NewAuthService(cfg, st.users, otps, auth.NewBcryptHasher(cfg.OTP.BcryptCost), mail, log.Named("auth"))
	orderSvc := service.NewOrderService(st.orders, notifSvc, log.Named("orders"))

	sched := worker.NewScheduler(notifSvc, cfg.Notifications.ScheduleEvery, log.Named("scheduler"))
	if err := sched.Start(context.Background()); err != nil {
		log.Fatal("scheduler", zap.Error(err))
	}

	engine, stopLimiters := router.Setup(cfg, router.Deps{
		Auth:          authSvc,
		Notifications: notifSvc,
		Orders:        orderSvc,
		Hub:           hub,
		Cloud:         cloud,
		Log:           log,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	// Live streams never finish on their own, so close them before draining the server.
	hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	sched.Stop()
	stopLimiters()
	if err := otps.Close(); err != nil {
		log.Warn("otp store close", zap.Error(err))
	}
	log.Info("server stopped")
}

func newLogger(env string) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if env == "production" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return log
}

func openStores(cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("using in-memory store, data is lost on restart")
		m := repository.NewMemoryStore()
		return &stores{users: m.Users(), notifications: m.Notifications(), campaigns: m.Campaigns(), orders: m.Orders()}, nil
	}
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}
	return &stores{
		users:         repository.NewUserRepository(db),
		notifications: repository.NewNotificationRepository(db),
		campaigns:     repository.NewSentNotificationRepository(db),
		orders:        repository.NewOrderRepository(db),
	}, nil
}

func openOTPStore(cfg *config.Config, log *zap.Logger) (otp.Store, error) {
	if cfg.OTP.Store != "redis" {
		return otp.NewMemoryStore(cfg.OTP.TTL, otp.WithLogger(log.Named("otp"))), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return otp.NewRedisStore(client, cfg.OTP.TTL), nil
}

func newMailer(cfg *config.Config, log *zap.Logger) (mailer.Mailer, error) {
	return mailer.New(mailer.PostmarkConfig{
		ServerToken:  cfg.Mail.PostmarkServerToken,
		AccountToken: cfg.Mail.PostmarkAccountToken,
		From:         cfg.Mail.From,
		ReplyTo:      cfg.Mail.ReplyTo,
	}, cfg.Server.Env == "production", log.Named("mail"))
}
