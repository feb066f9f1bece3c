package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	api "github.com/mind-engage/mindengage-nmt/internal/api/http"
	auth "github.com/mind-engage/mindengage-nmt/internal/auth/middleware"
	"github.com/mind-engage/mindengage-nmt/internal/config"
	"github.com/mind-engage/mindengage-nmt/internal/db"
	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/live"
	"github.com/mind-engage/mindengage-nmt/internal/session"
	"github.com/mind-engage/mindengage-nmt/internal/storage"
	syncx "github.com/mind-engage/mindengage-nmt/internal/sync"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		glog.Warningf(".env: %v", err)
	}
	flag.Parse()
	defer glog.Flush()

	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		glog.Exitf("db open failed: %v", err)
	}
	defer dbh.Close()
	store := exam.NewSQLStore(dbh)
	events := syncx.NewEventRepo(dbh, "")

	// --- Domain ---
	hub := live.NewHub()
	svc := exam.NewService(store,
		exam.WithEventLog(events),
		exam.WithPublisher(hub),
		exam.WithBackoff(cfg.Backoff()),
	)
	if err := svc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassHash); err != nil {
		glog.Exitf("bootstrap admin: %v", err)
	}

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		glog.Exitf("blob store: %v", err)
	}

	// Online deployments may run several replicas, so watchers poll storage
	// instead of trusting this process's hub.
	var src session.Source = hub
	if cfg.Mode == config.ModeOnline {
		src = live.NewPoller(func(ctx context.Context, id string) (session.Snapshot, error) {
			ss, err := svc.GetSession(ctx, id)
			return ss.Snapshot(), err
		}, nil, cfg.PollInterval)
	}
	watcher := live.NewWatcher(src, nil, originChecker(cfg.CORSOrigins))

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if cfg.RequestLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(unlessUpgrade(middleware.Timeout(30 * time.Second)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	api.Mount(r, api.Deps{
		Service: svc,
		Auth:    auth.NewAuthService(cfg.AuthHMACSecret, cfg.TokenTTL),
		Blobs:   bs,
		Hub:     hub,
		Watcher: watcher,
		Events:  events,
		DB:      dbh,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Infof("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		live.NewSweeper(svc, nil).Run(gctx, cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		glog.Info("shutting down")
		return srv.Shutdown(shCtx)
	})
	if err := g.Wait(); err != nil {
		glog.Errorf("gateway: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}

// unlessUpgrade skips mw for WebSocket upgrades, which outlive any request
// timeout.
func unlessUpgrade(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

// originChecker admits WebSocket origins from the CORS list. An empty list
// admits any origin.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || allowed[o] || allowed["*"]
	}
}
