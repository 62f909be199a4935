package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/nestuniq/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/nestuniq/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/nestuniq/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/nestuniq/internal/core/domain"
	"github.com/atvirokodosprendimai/nestuniq/internal/core/usecase"
	"github.com/atvirokodosprendimai/nestuniq/internal/metrics"
	"github.com/atvirokodosprendimai/nestuniq/migrations"
)

type Config struct {
	Addr             string
	DBPath           string
	BootstrapAPIKey  string
	BootstrapTenant  string
	BootstrapKeyName string
	Logger           logrus.FieldLogger
}

func (c Config) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// openDB opens the database and brings its schema up to date.
func openDB(ctx context.Context, cfg Config) (*gormsqlite.DB, error) {
	db, err := gormsqlite.Open(cfg.DBPath, cfg.logger())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(ctx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies pending migrations and exits.
func Migrate(ctx context.Context, cfg Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	return db.Close()
}

// NewChecker returns a form service backed by the database, without HTTP
// or metrics.
func NewChecker(ctx context.Context, cfg Config) (*usecase.FormService, io.Closer, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	svc := usecase.NewFormService(sqliteadapter.NewFormRepository(db), sqliteadapter.NewFieldStore(db), nil, cfg.logger())
	return svc, db, nil
}

func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	log := cfg.logger()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	formRepo := sqliteadapter.NewFormRepository(db)
	fieldStore := sqliteadapter.NewFieldStore(db)
	apiKeyRepo := sqliteadapter.NewAPIKeyRepository(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	formService := usecase.NewFormService(formRepo, fieldStore, metrics.NewRecorder(reg), log)
	authService := usecase.NewAuthService(apiKeyRepo)

	if cfg.BootstrapAPIKey != "" {
		tenant := cfg.BootstrapTenant
		if tenant == "" {
			tenant = "default"
		}
		name := cfg.BootstrapKeyName
		if name == "" {
			name = "bootstrap"
		}

		bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := apiKeyRepo.Upsert(bootstrapCtx, domain.APIKey{
			TokenHash: usecase.HashToken(cfg.BootstrapAPIKey),
			TenantID:  tenant,
			Name:      name,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		})
		bootstrapCancel()
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("bootstrap api key: %w", err)
		}
		log.WithFields(logrus.Fields{"tenant": tenant, "name": name}).Info("bootstrap api key stored")
	}

	handler := httpapi.NewHandler(formService, authService, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), log)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: []io.Closer{db}}, nil
}
