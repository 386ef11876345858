package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"bountyWeb/internal/config"
	"bountyWeb/internal/handlers"
	"bountyWeb/internal/repositories"
	"bountyWeb/internal/services"
	"bountyWeb/utils"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger
	logger   *slog.Logger
	cfg      config.Config

	db  *sql.DB
	rdb *redis.Client

	sessions    repositories.SessionStore
	intents     repositories.IntentStore
	markers     repositories.MarkerStore
	resumptions *repositories.ResumptionRepository
	tokens      *utils.Manager
	registry    *services.WorkflowRegistry

	sessionHandler  *handlers.SessionHandler
	checkoutHandler *handlers.CheckoutHandler
	workflowHandler *handlers.WorkflowHandler
}

func initializeApp(ctx context.Context, cfg config.Config, infoLog, errorLog *log.Logger) (*application, error) {
	app := &application{
		errorLog: errorLog,
		infoLog:  infoLog,
		logger:   slog.New(slog.NewTextHandler(os.Stdout, nil)),
		cfg:      cfg,
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		app.rdb = rdb
		app.sessions = repositories.NewRedisSessionStore(rdb)
		app.intents = repositories.NewRedisIntentStore(rdb, cfg.Workflow.IntentTTL, app.logger)
		app.markers = repositories.NewRedisMarkerStore(rdb, cfg.Workflow.IntentTTL)
		infoLog.Printf("Using redis at %s for sessions and intents", cfg.Redis.Addr)
	} else {
		app.sessions = repositories.NewMemorySessionStore()
		app.intents = repositories.NewMemoryIntentStore()
		app.markers = repositories.NewMemoryMarkerStore(cfg.Workflow.IntentTTL)
		infoLog.Printf("REDIS_ADDR not set, keeping sessions and intents in memory")
	}

	if cfg.Database.URL != "" {
		db, err := openDB(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			app.close()
			return nil, err
		}
		app.db = db
	}
	app.resumptions = repositories.NewResumptionRepository(app.db, cfg.Database.Driver)
	if err := app.resumptions.EnsureSchema(ctx); err != nil {
		app.close()
		return nil, err
	}

	tokens, err := utils.NewManager(cfg.Session.Secret)
	if err != nil {
		app.close()
		return nil, err
	}
	app.tokens = tokens

	if err := app.buildWorkflow(); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (app *application) buildWorkflow() error {
	cfg := app.cfg

	game, err := services.NewGameClient(services.GameClientConfig{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Logger:  app.logger,
	})
	if err != nil {
		return err
	}

	checkout, err := services.NewCheckoutService(app.intents, services.CheckoutConfig{
		CentsPerCredit: cfg.Workflow.CentsPerCredit,
		Sessions:       app.sessions,
		Logger:         app.logger,
	})
	if err != nil {
		return err
	}

	reconciler, err := services.NewReconciler(app.intents, app.markers, services.ReconcilerConfig{
		Poll: services.PollConfig{
			Interval:    cfg.Workflow.PollInterval,
			MaxAttempts: cfg.Workflow.MaxPollAttempts,
		},
		Journal: app.resumptions,
		Logger:  app.logger,
	})
	if err != nil {
		return err
	}

	deps := services.WorkflowDeps{
		Checkout:          checkout,
		Reconciler:        reconciler,
		Logger:            app.logger,
		CheckoutPerMinute: cfg.Checkout.PerMinute,
		CheckoutBurst:     cfg.Checkout.Burst,
	}
	if err := deps.Validate(); err != nil {
		return err
	}

	app.registry = services.NewWorkflowRegistry(func(sessionID, accessToken string) (*services.WorkflowController, error) {
		api := services.WithExpiryHook(game.WithToken(accessToken), func() {
			app.expireSession(sessionID)
		})
		return services.NewWorkflowController(deps, sessionID, api)
	}, cfg.Workflow.IdleTTL)

	app.sessionHandler = &handlers.SessionHandler{
		Sessions:   app.sessions,
		Intents:    app.intents,
		Registry:   app.registry,
		Tokens:     app.tokens,
		Logger:     app.logger,
		CookieName: cfg.Session.CookieName,
		Secure:     cfg.Session.Secure,
		MaxTTL:     cfg.Session.TTL,
	}
	app.checkoutHandler = &handlers.CheckoutHandler{}
	app.workflowHandler = &handlers.WorkflowHandler{History: app.resumptions}
	return nil
}

// expireSession forgets a session whose backend token was rejected. The
// pending intent is kept so the payment can still be resumed after sign-in.
func (app *application) expireSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := app.sessions.Delete(ctx, sessionID); err != nil {
		app.errorLog.Printf("expire session: %v", err)
	}
	app.registry.Drop(sessionID)
}

func (app *application) close() {
	if app.db != nil {
		_ = app.db.Close()
	}
	if app.rdb != nil {
		_ = app.rdb.Close()
	}
}

func openDB(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.Printf("Failed to open DB: %v", err)
		return nil, err
	}
	if err = db.Ping(); err != nil {
		log.Printf("Failed to ping DB: %v", err)
		_ = db.Close()
		return nil, err
	}
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	log.Println("Successfully connected to database")
	return db, nil
}

func addSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}
