package authorizer

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alovak/atmswitch-playground/hsm"
	"github.com/alovak/atmswitch-playground/internal/middleware"
	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"golang.org/x/exp/slog"
)

// App hosts one authorizer's administration API and is responsible for
// starting and stopping it.
type App struct {
	srv     *http.Server
	wg      *sync.WaitGroup
	Addr    string
	logger  *slog.Logger
	config  *Config
	name    string
	hsm     *hsm.HSM
	service *Service
	db      *sql.DB
}

func NewApp(logger *slog.Logger, name string, h *hsm.HSM, config *Config) *App {
	logger = logger.With(slog.String("app", "authorizer"), slog.String("name", name))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
		name:   name,
		hsm:    h,
	}
}

// Service returns the authorization service for registry wiring with the
// switch. Valid after Start.
func (a *App) Service() *Service {
	return a.service
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	var repository *Repository
	switch a.config.RepoBackend {
	case "pg":
		if a.config.DBDSN == "" {
			return fmt.Errorf("DBDSN is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DBDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		a.db = db
		repository = NewPGRepository(db, []byte(a.config.PANHashKey))
	case "mem", "":
		repository = NewRepository()
	default:
		return fmt.Errorf("unsupported RepoBackend=%s", a.config.RepoBackend)
	}

	a.service = NewService(a.name, a.hsm, repository, a.config, a.logger)

	router := chi.NewRouter()
	router.Use(middleware.NewStructuredLogger(a.logger))

	api := NewAPI(a.service)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "repository not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler: router,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	a.srv.Shutdown(context.Background())

	if a.db != nil {
		a.db.Close()
	}

	a.wg.Wait()

	a.logger.Info("app stopped")
}
