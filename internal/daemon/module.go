package daemon

import (
	"context"
	gosync "sync"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/apiclient"
	"github.com/matheus3301/chatsync/internal/bridge"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/deeplink"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/push"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ServiceName identifies the daemon in traces.
const ServiceName = "chatsyncd"

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTracing,
			provideAPIClient,
			provideConversations,
			cache.NewMessages,
			cache.NewContacts,
			provideReconciler,
			provideEngine,
			provideComposer,
			provideResolver,
			provideChatService,
			provideAPIServer,
			NewServer,
			provideDebugServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return config.Load(profile.Dir(p.Profile))
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTracing(cfg *config.Config, logger *zap.Logger) tracing.ShutdownFunc {
	shutdown, err := tracing.Init(context.Background(), ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		return func(context.Context) error { return nil }
	}
	if cfg.OTLPEndpoint != "" {
		logger.Info("tracing enabled", zap.String("endpoint", cfg.OTLPEndpoint))
	}
	return shutdown
}

func provideAPIClient(cfg *config.Config, _ tracing.ShutdownFunc, logger *zap.Logger) (*apiclient.Client, error) {
	return apiclient.New(apiclient.Options{
		BaseURL:       cfg.APIBaseURL,
		SessionCookie: cfg.SessionCookie,
		CSRFToken:     cfg.CSRFToken,
		Timeout:       cfg.RequestTimeout,
		Logger:        logger.Named("apiclient"),
	})
}

// The current user is unknown until Bootstrap or the engine's retry
// learns it; the direct index stays empty until then.
func provideConversations() *cache.Conversations {
	return cache.NewConversations(0)
}

func provideReconciler(db *store.DB, logger *zap.Logger) *chatsync.Reconciler {
	return chatsync.NewReconciler(db, logger.Named("reconciler"))
}

func provideEngine(cfg *config.Config, client *apiclient.Client, convs *cache.Conversations, msgs *cache.Messages,
	contacts *cache.Contacts, b *bus.Bus, m *status.Machine, recon *chatsync.Reconciler, logger *zap.Logger) *chatsync.Engine {
	return chatsync.NewEngine(client, convs, msgs, contacts, b, m, recon, logger.Named("sync"), chatsync.Options{
		ConversationsInterval: cfg.ConversationsInterval,
		MessagesInterval:      cfg.MessagesInterval,
		PageSize:              cfg.MessagePageSize,
		AutoSelect:            cfg.AutoSelect,
	})
}

func provideComposer(client *apiclient.Client, convs *cache.Conversations, msgs *cache.Messages, db *store.DB,
	engine *chatsync.Engine, b *bus.Bus, logger *zap.Logger) *outbox.Composer {
	return outbox.NewComposer(client, convs, msgs, db, engine, b, logger.Named("outbox"))
}

func provideResolver(client *apiclient.Client, convs *cache.Conversations, contacts *cache.Contacts,
	engine *chatsync.Engine, b *bus.Bus, logger *zap.Logger) *deeplink.Resolver {
	return deeplink.NewResolver(client, convs, contacts, engine, engine, b, logger.Named("deeplink"))
}

func provideChatService(cfg *config.Config, client *apiclient.Client, convs *cache.Conversations, msgs *cache.Messages,
	contacts *cache.Contacts, engine *chatsync.Engine, resolver *deeplink.Resolver, recon *chatsync.Reconciler,
	m *status.Machine, b *bus.Bus, logger *zap.Logger) *chat.Service {
	svc := chat.NewService(chat.Deps{
		API:      client,
		Convs:    convs,
		Msgs:     msgs,
		Contacts: contacts,
		Engine:   engine,
		Resolver: resolver,
		Forget:   recon,
		Machine:  m,
		Bus:      b,
		Logger:   logger.Named("chat"),
	}, chat.Options{LoginURL: cfg.LoginURL, FrontendOrigin: cfg.FrontendOrigin})
	engine.SetUserSource(svc)
	return svc
}

func provideAPIServer(p Params, svc *chat.Service, engine *chatsync.Engine, composer *outbox.Composer,
	convs *cache.Conversations, msgs *cache.Messages, contacts *cache.Contacts, m *status.Machine,
	b *bus.Bus, logger *zap.Logger) *api.Server {
	return api.NewServer(api.Deps{
		Profile:  p.Profile,
		Chat:     svc,
		Engine:   engine,
		Composer: composer,
		Convs:    convs,
		Msgs:     msgs,
		Contacts: contacts,
		Machine:  m,
		Bus:      b,
		Logger:   logger.Named("api"),
	})
}

func provideDebugServer(cfg *config.Config, m *status.Machine, logger *zap.Logger) *DebugServer {
	return NewDebugServer(cfg.DebugAddr, m, logger.Named("debug"))
}

type lifecycleDeps struct {
	fx.In

	Config    *config.Config
	Server    *Server
	Debug     *DebugServer
	Lock      *lock.Lock
	DB        *store.DB
	Tracing   tracing.ShutdownFunc
	Client    *apiclient.Client
	Convs     *cache.Conversations
	Msgs      *cache.Messages
	Contacts  *cache.Contacts
	Reconcile *chatsync.Reconciler
	Engine    *chatsync.Engine
	Chat      *chat.Service
	Machine   *status.Machine
	Bus       *bus.Bus
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	var (
		cancel context.CancelFunc
		wg     gosync.WaitGroup
		drain  func() error
	)
	logger := d.Logger

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := d.Reconcile.Warm(d.Convs, d.Msgs, d.Contacts, d.Config.MessagePageSize); err != nil {
				logger.Warn("cache warm-up failed", zap.Error(err))
			} else {
				logger.Info("caches warmed", zap.Int("conversations", d.Convs.Len()))
			}

			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			if err := d.Debug.Start(); err != nil {
				return err
			}

			ctx, stop := context.WithCancel(context.Background())
			cancel = stop

			if d.Config.NATSURL != "" {
				nc, err := bridge.Connect(d.Config.NATSURL, logger.Named("nats"))
				if err != nil {
					logger.Warn("nats bridge disabled", zap.Error(err))
				} else {
					drain = nc.Drain
					br := bridge.New(nc, d.Bus, d.Config.NATSSubjectPrefix, logger.Named("bridge"))
					run(&wg, logger, "bridge", func() error { return br.Run(ctx) })
				}
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := d.Chat.Bootstrap(ctx); err != nil {
					logger.Warn("bootstrap failed, polling will retry", zap.Error(err))
				}
				if ctx.Err() != nil {
					return
				}
				d.Engine.Start(ctx)
				if d.Config.PushEnabled {
					l := push.NewListener(push.Options{
						BaseURL: d.Client.BaseURL(),
						Path:    d.Config.PushPath,
						Jar:     d.Client.Jar(),
						Origin:  d.Config.FrontendOrigin,
					}, d.Engine, d.Bus, logger.Named("push"))
					run(&wg, logger, "push listener", func() error { return l.Run(ctx) })
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			wg.Wait()
			d.Server.Stop(ctx)
			d.Debug.Stop(ctx)
			d.Engine.Stop()
			if drain != nil {
				if err := drain(); err != nil {
					logger.Warn("error draining nats connection", zap.Error(err))
				}
			}
			if err := d.Tracing(ctx); err != nil {
				logger.Warn("error flushing traces", zap.Error(err))
			}
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

func run(wg *gosync.WaitGroup, logger *zap.Logger, name string, fn func() error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(); err != nil {
			logger.Warn(name+" exited", zap.Error(err))
		}
	}()
}
