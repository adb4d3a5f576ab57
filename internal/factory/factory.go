package factory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"colleague-auth/internal/bucketing"
	"colleague-auth/internal/client"
	"colleague-auth/internal/config"
	"colleague-auth/internal/encryption"
	"colleague-auth/internal/events"
	"colleague-auth/internal/handler"
	"colleague-auth/internal/hashing"
	"colleague-auth/internal/repository"
	"colleague-auth/internal/repository/memory"
	"colleague-auth/internal/repository/postgres"
	redisrepo "colleague-auth/internal/repository/redis"
	"colleague-auth/internal/repository/scylla"
	"colleague-auth/internal/search"
	"colleague-auth/internal/service"
	"colleague-auth/internal/session"
	"colleague-auth/internal/sms"
	"colleague-auth/internal/tls"
	"colleague-auth/internal/token"
	"colleague-auth/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	db               *sql.DB

	// Managers
	hasher           *hashing.Hasher
	bucketingManager *bucketing.BucketingManager
	codec            *token.Codec
	binder           *session.Binder
	recorder         *events.Recorder
	smsSender        sms.Sender
	directory        *search.Directory

	// Repositories
	userRepository    repository.UserRepository
	verificationCache *redisrepo.VerificationCache
	rateLimitCache    *redisrepo.RateLimitCache
	serviceFactory    *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes all application dependencies
func NewFactory(ctx context.Context) (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return New(ctx, cfg, util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format))
}

// New builds the dependency graph for cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	f := &Factory{
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.IsProduction(), logger)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	steps := []func(context.Context) error{
		f.initializeClients,
		f.initializeUserRepository,
		f.initializeManagers,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			f.Close()
			return nil, err
		}
	}

	logger.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("database_driver", cfg.Database.Driver),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("kafka_enabled", f.kafkaProducer != nil),
		util.Bool("elasticsearch_enabled", f.esClient != nil),
		util.Bool("clickhouse_enabled", f.clickhouseClient != nil),
	)

	return f, nil
}

// initializeClients connects Redis and the optional clients. Optional
// clients that fail are fatal in production and skipped otherwise.
func (f *Factory) initializeClients(ctx context.Context) error {
	cfg := f.config
	f.bucketingManager = bucketing.NewBucketingManager(cfg.Bucketing)

	redisClient, err := client.NewRedisClient(cfg.Redis, f.logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient

	var (
		mu           sync.Mutex
		initErrors   []error
		scyllaFailed bool
	)
	optional := func(name string, fn func() error) func() error {
		return func() error {
			if err := fn(); err != nil {
				mu.Lock()
				initErrors = append(initErrors, fmt.Errorf("%s: %w", name, err))
				scyllaFailed = scyllaFailed || name == "scylla"
				mu.Unlock()
				return nil
			}
			f.logger.Info("Client initialized and healthy", util.String("client", name))
			return nil
		}
	}

	var g errgroup.Group
	if cfg.Scylla.Enabled {
		g.Go(optional("scylla", func() error {
			c, err := scylla.NewScyllaClient(cfg.Scylla, cfg.IsProduction(), f.logger)
			if err != nil {
				return err
			}
			if err := c.HealthCheck(ctx); err != nil {
				c.Close()
				return err
			}
			f.scyllaClient = c
			return nil
		}))
	}
	if cfg.Kafka.Enabled {
		g.Go(optional("kafka", func() error {
			p, err := client.NewKafkaProducer(cfg.Kafka, f.logger)
			if err != nil {
				return err
			}
			if err := p.HealthCheck(ctx); err != nil {
				_ = p.Close()
				return err
			}
			f.kafkaProducer = p
			return nil
		}))
	}
	if cfg.Elasticsearch.Enabled {
		g.Go(optional("elasticsearch", func() error {
			c, err := client.NewElasticsearchClient(cfg.Elasticsearch, f.logger)
			if err != nil {
				return err
			}
			f.esClient = c
			return nil
		}))
	}
	if cfg.ClickHouse.Enabled {
		g.Go(optional("clickhouse", func() error {
			c, err := client.NewClickHouseClient(cfg.ClickHouse, cfg.IsProduction(), f.logger)
			if err != nil {
				return err
			}
			if err := c.HealthCheck(ctx); err != nil {
				_ = c.Close()
				return err
			}
			f.clickhouseClient = c
			return nil
		}))
	}
	_ = g.Wait()

	if len(initErrors) > 0 {
		if cfg.IsProduction() || (cfg.Database.Driver == config.DriverScylla && scyllaFailed) {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			f.logger.Warn("Service initialization warning", util.ErrorField(err))
		}
	}
	return nil
}

// initializeUserRepository opens the configured credential store.
func (f *Factory) initializeUserRepository(ctx context.Context) error {
	cfg := f.config

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.Database, f.logger)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		f.db = db
		if cfg.Database.RunMigrations {
			if err := postgres.RunMigrations(ctx, db); err != nil {
				return err
			}
		}
		f.userRepository = postgres.NewUserRepository(db)

	case config.DriverScylla:
		if cfg.Database.RunMigrations {
			if err := f.scyllaClient.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		f.userRepository = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager, f.logger)

	case config.DriverMemory:
		f.logger.Warn("Using in-memory credential store; data is lost on restart")
		f.userRepository = memory.NewUserRepository()

	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	return nil
}

// initializeManagers builds the token codec, session binder, caches, event
// pipeline, SMS sender and user directory.
func (f *Factory) initializeManagers(ctx context.Context) error {
	cfg := f.config
	f.hasher = hashing.NewHasher(cfg.Hashing)
	if cost, err := f.hasher.Benchmark(1); err == nil {
		f.logger.Info("Password hasher ready", util.Duration("hash_cost", cost))
	}

	var decrypter encryption.Decrypter
	if cfg.KMS.Enabled {
		kmsClient, err := encryption.NewKMSClient(ctx, cfg.KMS)
		if err != nil {
			return err
		}
		decrypter = kmsClient
	}
	secret, err := encryption.SigningKey(ctx, cfg.JWT, cfg.KMS, decrypter, f.logger)
	if err != nil {
		return err
	}
	f.codec, err = token.NewCodec(secret, cfg.JWT)
	if err != nil {
		return err
	}
	f.binder = session.NewBinder(f.codec, f.userRepository, f.logger)

	f.verificationCache = redisrepo.NewVerificationCache(f.redisClient, cfg.Verification, f.logger)
	f.rateLimitCache = redisrepo.NewRateLimitCache(f.redisClient, f.logger)

	var publishers events.Fanout
	if f.kafkaProducer != nil {
		publishers = append(publishers, events.NewKafkaPublisher(f.kafkaProducer, cfg.Kafka.EventsTopic))
	}
	if f.clickhouseClient != nil {
		sink := events.NewClickHouseSink(f.clickhouseClient, cfg.ClickHouse.EventsTable)
		if err := sink.EnsureSchema(ctx); err != nil {
			f.logger.Warn("Failed to ensure security event table", util.ErrorField(err))
		} else {
			publishers = append(publishers, sink)
		}
	}
	if len(publishers) > 0 {
		f.recorder = events.NewRecorder(publishers, f.bucketingManager, f.logger)
	}

	if f.kafkaProducer != nil {
		f.smsSender = sms.NewKafkaSender(f.kafkaProducer, cfg.Kafka.SMSTopic)
	} else {
		f.smsSender = sms.NewLogSender(f.logger)
	}

	if f.esClient != nil {
		f.directory = search.NewDirectory(f.esClient, cfg.Elasticsearch.UserIndex)
	}

	f.logger.Info("Managers initialized successfully",
		util.Bool("events_enabled", f.recorder != nil),
		util.Bool("directory_enabled", f.directory != nil),
	)
	return nil
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var recorder service.EventRecorder
		if f.recorder != nil {
			recorder = f.recorder
		}
		var directory service.UserDirectory
		if f.directory != nil {
			directory = f.directory
		}

		f.serviceFactory = service.NewServiceFactory(
			f.config,
			f.userRepository,
			f.verificationCache,
			f.hasher,
			f.codec,
			f.binder,
			f.smsSender,
			recorder,
			directory,
			f.logger,
		)
	}
	return f.serviceFactory
}

// Router wires the HTTP handlers.
func (f *Factory) Router() chi.Router {
	sf := f.ServiceFactory()
	return handler.NewRouter(handler.RouterDeps{
		Auth:      handler.NewAuthHandler(sf.AuthService(), f.logger),
		Users:     handler.NewUserHandler(sf.UserService(), f.logger),
		Binder:    f.binder,
		Limiter:   f.rateLimitCache,
		Health:    f,
		Server:    f.config.Server,
		RateLimit: f.config.RateLimit,
		Logger:    f.logger,
	})
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes every initialized component concurrently. The value is
// empty for healthy components and the failure otherwise.
func (f *Factory) HealthCheck(ctx context.Context) map[string]string {
	checks := map[string]func(context.Context) error{
		"redis":           f.redisClient.HealthCheck,
		"user_repository": f.userRepository.HealthCheck,
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}
	if f.scyllaClient != nil && f.config.Database.Driver != config.DriverScylla {
		checks["scylla"] = f.scyllaClient.HealthCheck
	}

	var (
		mu     sync.Mutex
		result = make(map[string]string, len(checks))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			status := ""
			if err := check(gctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			result[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.logger.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.db != nil {
			if err := f.db.Close(); err != nil {
				f.logger.Error("Failed to close PostgreSQL pool", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		_ = f.logger.Sync()
		f.logger.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Codec() *token.Codec {
	return f.codec
}

func (f *Factory) UserRepository() repository.UserRepository {
	return f.userRepository
}
