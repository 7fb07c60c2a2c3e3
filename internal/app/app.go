// Package app wires the node's dependency graph together: logger, metrics,
// state store, event bus, broker connection, queue managers, and the
// account lifecycle. Start/Shutdown follow the teacher's App pattern
// (orders/app.go in the retrieval pack): one struct owning every
// long-lived dependency, built once in New and torn down in reverse
// order in Shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bitmex-bridge/node/internal/account"
	"github.com/bitmex-bridge/node/internal/broker"
	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/config"
	"github.com/bitmex-bridge/node/internal/exchange"
	"github.com/bitmex-bridge/node/internal/logging"
	"github.com/bitmex-bridge/node/internal/metrics"
	"github.com/bitmex-bridge/node/internal/orchestrator"
	"github.com/bitmex-bridge/node/internal/queuemanager"
	"github.com/bitmex-bridge/node/internal/store"
)

// App owns every long-lived dependency the node starts at boot and stops
// at shutdown.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	metric *metrics.Metrics

	redisClient *redis.Client
	conn        *broker.Conn
	bus         *bus.Bus

	lifecycle *account.Lifecycle
	accountQM *queuemanager.AccountQueueManager
	orderQM   *queuemanager.OrderQueueManager
	positionQM *queuemanager.PositionQueueManager

	httpServer *http.Server
	cancel     context.CancelFunc
}

// New builds the full dependency graph without starting anything network
// facing yet. Call Start to begin serving.
func New(cfg config.Config) (*App, error) {
	logger := logging.New("bitmex-node")
	metric := metrics.New("bitmex_node")

	var state store.Store
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		state = store.NewRedis(redisClient)
	} else {
		state = store.NewMemory()
	}

	b := bus.New(logger)
	store.AttachBus(b, state, logger)

	conn, err := broker.Connect(cfg.AMQPURL, cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}

	exchangeClient := exchange.NewClient(cfg.RestBaseURL(), logger, metric)
	orch := orchestrator.New(exchangeClient, state, b, logger, metric)

	lifecycle := account.New(func() account.Client {
		return exchange.NewClient(cfg.RestBaseURL(), logger, metric)
	}, b, logger, cfg.WSBaseURL(), metric)

	accountQM := queuemanager.NewAccountQueueManager(conn, b, lifecycle, cfg.Sandbox(), logger, metric)
	orderQM := queuemanager.NewOrderQueueManager(conn, b, orch, logger, metric)
	positionQM := queuemanager.NewPositionQueueManager(conn, b, orch, logger, metric)

	return &App{
		cfg:         cfg,
		logger:      logger,
		metric:      metric,
		redisClient: redisClient,
		conn:        conn,
		bus:         b,
		lifecycle:   lifecycle,
		accountQM:   accountQM,
		orderQM:     orderQM,
		positionQM:  positionQM,
	}, nil
}

// Start begins serving: registers the dynamic queue managers' bus
// listeners, starts the static account queue, forwards heartbeats, and
// brings up the status/metrics HTTP server. It blocks until the HTTP
// server exits.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.orderQM.Attach(ctx)
	a.positionQM.Attach(ctx)
	queuemanager.HeartbeatForwarder(ctx, a.conn, a.bus, a.logger, a.metric)

	if err := a.accountQM.Start(ctx); err != nil {
		return fmt.Errorf("start account queue manager: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", a.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	a.httpServer = &http.Server{
		Addr:    a.cfg.Host + ":" + a.cfg.Port,
		Handler: mux,
	}

	a.logger.Info("node listening", slog.String("addr", a.httpServer.Addr))
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	connected := a.lifecycle.Connected()
	if connected {
		a.metric.AccountState.Set(1)
	} else {
		a.metric.AccountState.Set(0)
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"connected":%t}`, connected)
}

// Shutdown tears the node down in reverse dependency order: HTTP server
// first (stop accepting new work), then the broker connection, then the
// Redis client if one was opened.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	if a.cancel != nil {
		a.cancel()
	}

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Error("http server shutdown failed", slog.Any("error", err))
		}
	}

	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("broker close failed", slog.Any("error", err))
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close failed", slog.Any("error", err))
		}
	}

	return nil
}
