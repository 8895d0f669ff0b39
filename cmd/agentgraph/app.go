package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/internal/database"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/telemetry"
	"github.com/BaSui01/agentgraph/internal/tlsutil"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/llm/providers/openaicompat"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/checkpoint"
)

// closer 释放命令运行期间创建的外部资源
type closer func(ctx context.Context) error

// app 是 run / resume 共享的运行环境
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     checkpoint.Store
	engine    *workflow.Engine
	providers *llm.ProviderRegistry
	registry  *prometheus.Registry
	closers   []closer
}

// newApp 按配置创建检查点存储、遥测、指标、引擎，并注册模型 Provider
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, providers: llm.NewProviderRegistry()}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.closers = append(a.closers, otelProviders.Shutdown)

	var observers []workflow.Observer
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		observers = append(observers, metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger))
	}
	if otelProviders.Enabled() {
		obs, err := telemetry.NewObserver(otelProviders.MeterProvider())
		if err != nil {
			logger.Warn("failed to create otel observer", zap.Error(err))
		} else {
			observers = append(observers, obs)
		}
	}

	a.engine = workflow.NewEngine(
		workflow.WithCheckpointStore(store),
		workflow.WithEngineLogger(logger),
		workflow.WithObserver(workflow.MultiObserver(observers...)),
		workflow.WithTracerProvider(otelProviders.TracerProvider()),
		workflow.WithMaxSupersteps(cfg.Engine.MaxSupersteps),
		workflow.WithUnroutedPolicy(workflow.UnroutedPolicy(cfg.Engine.UnroutedPolicy)),
	)

	if cfg.LLM.BaseURL != "" {
		p := openaicompat.New(openaicompat.Config{
			ProviderName: cfg.LLM.Name,
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
			Timeout:      cfg.LLM.Timeout,
		}, logger)
		a.providers.Register(p.Name(), llm.NewRateLimitedProvider(p, cfg.LLM.RateLimitRPS, cfg.LLM.RateLimitBurst, logger))
	}

	logger.Debug("runtime ready",
		zap.String("checkpoint_store", cfg.Checkpoint.Type),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Bool("telemetry", otelProviders.Enabled()),
		zap.Strings("llm_providers", a.providers.List()),
	)
	return a, nil
}

// writeMetrics 把指标写入 textfile（node_exporter textfile collector 格式）
func (a *app) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	if a.registry == nil {
		return errors.New("metrics.enabled is false, nothing to write")
	}
	return prometheus.WriteToTextfile(path, a.registry)
}

// close 逆序释放资源
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return closeAll(ctx, a.closers)
}

func closeAll(ctx context.Context, closers []closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// 💾 检查点存储
// =============================================================================

// openStore 创建配置指定的检查点存储以及它依赖的客户端
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (checkpoint.Store, closer, error) {
	noop := func(context.Context) error { return nil }
	sc := checkpoint.StoreConfig{
		Type:       checkpoint.StoreType(cfg.Checkpoint.Type),
		BaseDir:    cfg.Checkpoint.BaseDir,
		KeyPrefix:  cfg.Checkpoint.KeyPrefix,
		Collection: cfg.Checkpoint.Collection,
	}

	switch sc.Type {
	case checkpoint.StoreTypeRedis:
		opts := &redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}
		if cfg.Redis.TLS {
			opts.TLSConfig = tlsutil.ClientTLSConfig(cfg.Redis.Addr)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		sc.Redis = client
		store, err := checkpoint.NewStore(sc, logger)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, func(context.Context) error { return client.Close() }, nil

	case checkpoint.StoreTypeDatabase:
		pm, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		sc.DB = pm.DB()
		store, err := checkpoint.NewStore(sc, logger)
		if err != nil {
			pm.Close()
			return nil, nil, err
		}
		if gs, ok := store.(*checkpoint.GormStore); ok && cfg.Checkpoint.AutoMigrate {
			if err := gs.AutoMigrate(ctx); err != nil {
				pm.Close()
				return nil, nil, fmt.Errorf("auto-migrate checkpoint table: %w", err)
			}
		}
		return store, func(context.Context) error { return pm.Close() }, nil

	case checkpoint.StoreTypeMongo:
		client, err := mongo.Connect(options.Client().
			ApplyURI(cfg.Mongo.URI).
			SetConnectTimeout(cfg.Mongo.ConnectTimeout))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		disconnect := func(ctx context.Context) error { return client.Disconnect(ctx) }
		sc.Mongo = client.Database(cfg.Mongo.Database)
		store, err := checkpoint.NewStore(sc, logger)
		if err != nil {
			_ = disconnect(ctx)
			return nil, nil, err
		}
		if ms, ok := store.(*checkpoint.MongoStore); ok {
			if err := ms.EnsureIndexes(ctx); err != nil {
				_ = disconnect(ctx)
				return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
			}
		}
		return store, disconnect, nil

	default:
		store, err := checkpoint.NewStore(sc, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	}
}
