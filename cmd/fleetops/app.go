package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleetops/internal/auth"
	"github.com/ukydev/fleetops/internal/config"
	"github.com/ukydev/fleetops/internal/db"
	"github.com/ukydev/fleetops/internal/db/memdb"
	"github.com/ukydev/fleetops/internal/expiry"
	"github.com/ukydev/fleetops/internal/handlers"
	"github.com/ukydev/fleetops/internal/lifecycle"
	"github.com/ukydev/fleetops/internal/lock"
	"github.com/ukydev/fleetops/internal/metrics"
	"github.com/ukydev/fleetops/internal/middleware"
	"github.com/ukydev/fleetops/internal/notify"
	"github.com/ukydev/fleetops/internal/status"
	"github.com/ukydev/fleetops/internal/storage"
)

// app holds the wired services shared by every command.
type app struct {
	cfg    *config.Config
	logger *log.Logger

	store    db.Store
	users    db.UserCollection
	locker   lock.Locker
	files    storage.Provider
	notifier notify.Notifier
	orch     *lifecycle.Orchestrator
	scanner  *expiry.Scanner
	loc      *time.Location

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openLocker(ctx); err != nil {
		return nil, err
	}
	if err := a.openFiles(ctx); err != nil {
		return nil, err
	}
	a.openNotifier()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a.loc = loc
	sync := status.NewSynchronizer(a.store, a.locker, logger.WithField("component", "status"))
	a.orch = lifecycle.New(a.store, a.locker, sync, a.notifier, logger.WithField("component", "lifecycle"))
	a.scanner = expiry.NewScanner(a.store, logger.WithField("component", "expiry"), loc)
	ok = true
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Store == "memory" {
		a.logger.Warn("Using the in-memory store, data is lost on exit")
		a.store = memdb.New()
		a.users = memdb.NewUsers()
		return nil
	}
	client, err := db.ConnectMongo(ctx, a.cfg.MongoURI, a.cfg.IOTimeout)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			a.logger.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	})
	store := db.NewMongoStore(client, a.cfg.MongoDB)
	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	a.store = store
	a.users = store.Users()
	a.logger.WithField("database", a.cfg.MongoDB).Info("Connected to MongoDB")
	return nil
}

func (a *app) openLocker(ctx context.Context) error {
	if a.cfg.RedisAddr == "" {
		a.locker = lock.NewLocal()
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	a.closers = append(a.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.locker = lock.NewRedis(client, a.cfg.LockTTL)
	a.logger.WithField("addr", a.cfg.RedisAddr).Info("Using Redis vehicle locks")
	return nil
}

func (a *app) openFiles(ctx context.Context) error {
	s3 := a.cfg.S3Config
	if s3.Endpoint == "" {
		a.files = storage.NewMemory("http://localhost:" + a.cfg.Port + "/files")
		return nil
	}
	provider, err := storage.NewMinIOProvider(storage.S3Options{
		Endpoint:        s3.Endpoint,
		AccessKeyID:     s3.AccessKeyID,
		SecretAccessKey: s3.SecretAccessKey,
		BucketName:      s3.Bucket,
		UseSSL:          s3.UseSSL,
		PublicBaseURL:   s3.PublicBaseURL,
	})
	if err != nil {
		return err
	}
	if err := provider.CheckBucket(ctx); err != nil {
		return err
	}
	a.files = provider
	return nil
}

func (a *app) openNotifier() {
	sinks := notify.Multi{notify.Log{Logger: a.logger.WithField("component", "notify")}}
	if a.cfg.MQTTBroker != "" {
		m, err := notify.NewMQTT(notify.MQTTOptions{
			BrokerURL: a.cfg.MQTTBroker,
			ClientID:  a.cfg.MQTTClientID,
			Topic:     a.cfg.MQTTTopic,
			QoS:       1,
		}, a.logger.WithField("component", "mqtt"))
		if err != nil {
			// notifications are fire-and-forget; the service runs without the broker
			a.logger.WithError(err).Warn("MQTT notifier unavailable")
		} else {
			a.closers = append(a.closers, m.Close)
			sinks = append(sinks, m)
		}
	}
	a.notifier = sinks
}

func (a *app) authHandler() (*handlers.AuthHandler, *auth.Service) {
	svc := auth.NewService(a.cfg.JWTSecret, a.cfg.JWTExpiry)
	return handlers.NewAuthHandler(svc, a.users, a.logger.WithField("component", "http")), svc
}

// seedAdmin creates the configured bootstrap administrator.
func (a *app) seedAdmin(ctx context.Context) error {
	if a.cfg.AdminUsername == "" {
		return nil
	}
	h, _ := a.authHandler()
	return h.EnsureAdmin(ctx, a.cfg.AdminUsername, a.cfg.AdminPassword)
}

func (a *app) router() *mux.Router {
	authHandler, svc := a.authHandler()
	logger := a.logger.WithField("component", "http")
	return handlers.NewRouter(handlers.Handlers{
		Auth:      authHandler,
		Vehicles:  handlers.NewVehicleHandler(a.orch, a.store, logger),
		Documents: handlers.NewDocumentHandler(a.store, a.store, a.files, a.scanner, a.loc, logger),
		AuthMW:    middleware.NewAuthMiddleware(svc),
		RateLimit: middleware.NewRateLimitMiddleware(),
	})
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func init() {
	metrics.Register()
}
