package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/marshal-client/internal/api/http"
	"github.com/spec-kit/marshal-client/internal/api/http/handlers"
	"github.com/spec-kit/marshal-client/internal/auth"
	"github.com/spec-kit/marshal-client/internal/backend"
	"github.com/spec-kit/marshal-client/internal/config"
	"github.com/spec-kit/marshal-client/internal/events"
	"github.com/spec-kit/marshal-client/internal/locale"
	"github.com/spec-kit/marshal-client/internal/notify"
	"github.com/spec-kit/marshal-client/internal/observability"
	"github.com/spec-kit/marshal-client/internal/persistence"
	"github.com/spec-kit/marshal-client/internal/repository"
	"github.com/spec-kit/marshal-client/internal/service"
	"github.com/spec-kit/marshal-client/internal/session"
	"github.com/spec-kit/marshal-client/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if err := pg.Prepare(ctx, persistence.MigrationsDir); err != nil {
		logger.Fatal("failed to prepare postgres storage", zap.Error(err))
	}

	var rdb *persistence.Redis
	if cfg.UsesRedis() {
		rdb = persistence.NewRedis(ctx, cfg.Redis, logger)
		defer rdb.Close()
	}

	kv, err := newKeyValueStore(cfg, rdb, pg)
	if err != nil {
		logger.Fatal("failed to init storage", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()

	storeOpts := []session.Option{session.WithMetrics(metrics)}
	key, err := cfg.Storage.EncryptionKeyBytes()
	if err != nil {
		logger.Fatal("invalid encryption key", zap.Error(err))
	}
	if key != nil {
		sealer, err := session.NewSealer(key)
		if err != nil {
			logger.Fatal("failed to init sealer", zap.Error(err))
		}
		storeOpts = append(storeOpts, session.WithSealer(sealer))
	}
	if cfg.Storage.ScopeByAddress {
		resolver := session.NewHTTPAddressResolver(cfg.Storage.AddressLookupURL, cfg.Storage.AddressLookupTimeout)
		storeOpts = append(storeOpts, session.WithResolver(resolver))
	}
	store := session.NewStore(kv, dispatcher, logger, storeOpts...)

	locales := locale.NewProvider(kv, dispatcher, logger)
	locales.Load(ctx)

	api := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	codec := auth.NewTokenCodec(cfg.Session.RefreshThreshold)

	presenter, shell, err := newPresenters(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal("failed to init presenter", zap.Error(err))
	}

	channel := notify.NewChannel(presenter, notify.ChannelSpec{
		ID:         cfg.Delivery.ChannelID,
		Name:       cfg.Delivery.ChannelName,
		Importance: cfg.Delivery.ChannelImportance,
		Sound:      cfg.Delivery.ChannelSound,
	}, cfg.App.Platform, logger)
	if _, err := channel.EnsureChannel(ctx); err != nil {
		logger.Warn("notification channel not ready", zap.Error(err))
	}

	badge := service.NewBadgeSynchronizer(shell, cfg.App.Platform, metrics, logger)
	inbox := service.NewInbox(api, store, badge, locales, dispatcher, logger)
	detachInbox := inbox.Attach(dispatcher)
	defer detachInbox()

	coordinator := service.NewDeliveryCoordinator(cfg.Delivery, cfg.App.Platform, service.DeliveryDependencies{
		Channel:    channel,
		Navigator:  shell,
		Sessions:   store,
		Registrar:  api,
		Markers:    kv,
		Dispatcher: dispatcher,
		Metrics:    metrics,
	}, logger)
	coordinator.Attach(dispatcher)
	defer coordinator.Close()

	authService := service.NewAuthService(api, store, codec, logger)
	monitor := auth.NewMonitor(auth.MonitorConfig{
		Interval:  cfg.Session.CheckInterval,
		Threshold: cfg.Session.RefreshThreshold,
	}, store, api, authService.Expire, logger, metrics)
	unbind := monitor.Bind(dispatcher)
	defer unbind()
	defer monitor.Stop()

	if err := store.Migrate(ctx); err != nil {
		logger.Warn("legacy session cleanup failed", zap.Error(err))
	}
	if restored, ok := store.Load(ctx); ok {
		logger.Info("resumed session", zap.String("user_id", restored.UserID))
	}

	ingress := service.NewPushIngress(dispatcher, coordinator, logger)

	if rdb != nil {
		pushWorker := worker.NewPushWorker(rdb.Client, worker.PushWorkerConfig{
			Stream:   cfg.Push.InboundStream,
			Group:    cfg.Push.Group,
			Consumer: cfg.Push.Consumer,
			Block:    2 * time.Second,
			Count:    16,
		}, ingress, logger)
		if err := pushWorker.EnsureGroup(ctx); err != nil {
			logger.Warn("inbound stream unavailable", zap.Error(err))
		} else {
			go func() {
				if err := pushWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("push worker stopped", zap.Error(err))
				}
			}()
		}
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.Bridge.RequestTimeout, cfg.Bridge.Token)

	healthDeps := map[string]handlers.Pinger{"storage": kv}
	if rdb != nil {
		healthDeps["redis"] = rdb
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, healthDeps),
		Session:        handlers.NewSessionHandler(authService, store, codec),
		Push:           handlers.NewPushHandler(ingress, coordinator),
		Notifications:  handlers.NewNotificationsHandler(inbox, badge),
		Locale:         handlers.NewLocaleHandler(locales),
		RequireSession: auth.NewSessionMiddleware(store, codec),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.Bridge.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Warn("bridge shutdown", zap.Error(err))
	}
}

func newKeyValueStore(cfg *config.Config, rdb *persistence.Redis, pg *persistence.Postgres) (repository.KeyValueRepository, error) {
	switch cfg.Storage.Driver {
	case config.StorageRedis:
		return repository.NewRedisKVRepository(rdb.Client, cfg.App.Name+":"), nil
	case config.StoragePostgres:
		if pg.PoolHandle() == nil {
			return nil, errors.New("postgres storage selected without a connection")
		}
		return repository.NewPostgresKVRepository(pg.PoolHandle()), nil
	default:
		return repository.NewMemoryKVRepository(), nil
	}
}

// shellWriter receives badge and navigation commands.
type shellWriter interface {
	notify.BadgeWriter
	notify.Navigator
}

// newPresenters returns the display presenter and the writer for badge and
// navigation commands. Remote push cannot drive either, so those go to the
// outbox stream when Redis is available and to the log otherwise.
func newPresenters(ctx context.Context, cfg *config.Config, rdb *persistence.Redis, logger *zap.Logger) (notify.Presenter, shellWriter, error) {
	var shell shellWriter = notify.NewLogPresenter(logger)
	var client redis.UniversalClient
	if rdb != nil {
		client = rdb.Client
		shell = notify.NewStreamPresenter(client, cfg.Push.OutboxStream)
	}

	switch cfg.Push.Presenter {
	case config.PresenterStream:
		stream := notify.NewStreamPresenter(client, cfg.Push.OutboxStream)
		return stream, stream, nil
	case config.PresenterSNS:
		snsClient, err := notify.NewSNSClient(ctx, cfg.SNS.Region)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewSNSPresenter(snsClient, cfg.SNS.TopicPrefix), shell, nil
	default:
		if logPresenter, ok := shell.(*notify.LogPresenter); ok {
			return logPresenter, logPresenter, nil
		}
		return notify.NewLogPresenter(logger), shell, nil
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
