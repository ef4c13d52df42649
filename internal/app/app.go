package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"learnmusic/courseclient/internal/api"
	"learnmusic/courseclient/internal/audit"
	"learnmusic/courseclient/internal/auth"
	"learnmusic/courseclient/internal/catalog"
	"learnmusic/courseclient/internal/config"
	"learnmusic/courseclient/internal/dashboard"
	"learnmusic/courseclient/internal/httpserver"
	"learnmusic/courseclient/internal/observability"
	"learnmusic/courseclient/internal/purchase"
	"learnmusic/courseclient/internal/session"
)

// Client bundles the session-bound components that share one token store.
type Client struct {
	Store     *session.Store
	API       *api.Client
	Auth      *auth.Client
	Catalog   *catalog.Loader
	Purchase  *purchase.Coordinator
	Dashboard *dashboard.Loader

	closers []func() error
}

func NewClient(cfg config.Config, logger *zap.Logger) (*Client, error) {
	return NewClientWithHTTP(cfg, logger, nil)
}

// NewClientWithHTTP is NewClient with a caller-supplied transport client.
func NewClientWithHTTP(cfg config.Config, logger *zap.Logger, httpClient *http.Client) (*Client, error) {
	logger = observability.OrNop(logger)

	slot, closeSlot, err := OpenSlot(context.Background(), cfg.Session)
	if err != nil {
		return nil, err
	}
	c := &Client{closers: []func() error{closeSlot}}

	c.Store, err = session.NewStore(slot)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create session store: %w", err)
	}
	c.API, err = api.NewClient(c.Store, api.Options{
		HTTPClient: httpClient,
		AuthHeader: cfg.API.AuthHeader,
		Logger:     logger,
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create api client: %w", err)
	}

	recorder := audit.NewLogger(cfg.AuditLogFile)
	c.Auth, err = auth.NewClient(c.API, c.Store, auth.Config{
		LoginURL: cfg.API.LoginURL,
		Audit:    recorder,
		Logger:   logger,
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create auth client: %w", err)
	}
	c.Catalog, err = catalog.NewLoader(c.API, cfg.API.CoursesURL, logger)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create catalog loader: %w", err)
	}
	c.Purchase, err = purchase.NewCoordinator(c.API, c.Store, purchase.Config{
		PurchaseURL: cfg.API.PurchaseURL,
		Audit:       recorder,
		Logger:      logger,
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create purchase coordinator: %w", err)
	}
	c.Dashboard, err = dashboard.NewLoader(c.API, cfg.API.DashboardURL)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create dashboard loader: %w", err)
	}
	return c, nil
}

// BuyAndRefresh purchases courseName and, when the receipt asks for it,
// invalidates and refetches the catalog. A refetch failure is returned with
// the receipt of the completed purchase.
func (c *Client) BuyAndRefresh(ctx context.Context, courseName string) (purchase.Receipt, []catalog.Course, error) {
	receipt, err := c.Purchase.BuyCourse(ctx, courseName)
	if err != nil {
		return purchase.Receipt{}, nil, err
	}
	if !receipt.RefreshCatalog {
		return receipt, nil, nil
	}
	c.Catalog.Invalidate()
	courses, err := c.Catalog.FetchCourses(ctx)
	if err != nil {
		return receipt, nil, err
	}
	return receipt, courses, nil
}

func (c *Client) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		if closeFn == nil {
			continue
		}
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenSlot connects the configured durable key/value backend.
func OpenSlot(ctx context.Context, cfg config.SessionConfig) (session.Slot, func() error, error) {
	switch cfg.Backend {
	case "memory":
		return session.NewMemorySlot(), nil, nil
	case "file":
		slot, err := session.NewFileSlot(cfg.StateFile)
		if err != nil {
			return nil, nil, fmt.Errorf("create file slot: %w", err)
		}
		return slot, nil, nil
	case "sqlite":
		slot, err := session.OpenSQLiteSlot(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("create sqlite slot: %w", err)
		}
		return slot, slot.Close, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		slot, err := session.NewPostgresSlot(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("create postgres slot: %w", err)
		}
		return slot, db.Close, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		slot, err := session.NewRedisSlot(rdb, cfg.RedisPrefix)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return slot, rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session backend %q", cfg.Backend)
	}
}

// StubServer runs the local stand-in for the remote endpoints.
type StubServer struct {
	cfg    config.Config
	log    *zap.Logger
	server *httpserver.Server
}

func NewStubServer(cfg config.Config, logger *zap.Logger) *StubServer {
	logger = observability.OrNop(logger)
	server := httpserver.New(cfg.Stub, cfg.API.AuthHeader, httpserver.Deps{
		Ledger: httpserver.NewLedger(httpserver.DefaultCourses()),
		Audit:  audit.NewLogger(cfg.AuditLogFile),
		Logger: logger,
	})
	return &StubServer{cfg: cfg, log: logger, server: server}
}

func (a *StubServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.log.Info("stub server starting", zap.String("addr", a.cfg.Stub.Addr))
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}
