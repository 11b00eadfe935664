package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codecollab-server/collab"
	"codecollab-server/config"
	"codecollab-server/core"
	"codecollab-server/handlers/api/documents"
	"codecollab-server/handlers/api/rooms"
	"codecollab-server/handlers/websocket"
	"codecollab-server/metrics"
	authmw "codecollab-server/middleware"
	"codecollab-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const shutdownTimeout = 15 * time.Second

func setupRouter(cfg *config.Config, store stores.Store, manager *collab.Manager, roomRegistry core.RoomRegistry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(metrics.Middleware)

	corsOptions := cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			for _, allowed := range cfg.CORSOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return isLocalOrigin(origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	r.Use(cors.Handler(corsOptions))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/api/rooms", rooms.HandleList(manager.ActiveRooms, roomRegistry))

	if cfg.JWTSecret != "" {
		r.With(authmw.AuthJWT([]byte(cfg.JWTSecret))).Mount("/api/documents", documents.Routes(store))
		logrus.Info("Document API routes registered")
	} else {
		logrus.Warn("Document API not available - requires JWT_SECRET")
	}

	return r
}

func isLocalOrigin(origin string) bool {
	if origin == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	}
	return false
}

func waitForShutdown(server *http.Server, ioo *socketio.Server, sessions *websocket.Sessions, manager *collab.Manager, closers ...any) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdown(ctx, server, ioo, sessions, manager, closers...)
}

// shutdown stops intake first, then drains queued socket events, then
// pending writes, and closes the stores last.
func shutdown(ctx context.Context, server *http.Server, ioo *socketio.Server, sessions *websocket.Sessions, manager *collab.Manager, closers ...any) {
	ioo.Close(nil)

	if err := sessions.Close(ctx); err != nil {
		logrus.WithError(err).Warn("Queued socket events were abandoned")
	}

	if err := manager.Close(ctx); err != nil {
		logrus.WithError(err).Warn("Pending document writes were abandoned")
	}

	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown failed")
	}

	closed := make(map[any]bool)
	for _, c := range closers {
		closer, ok := c.(io.Closer)
		if !ok || closed[c] {
			continue
		}
		closed[c] = true
		if err := closer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close resource")
		}
	}
}

func main() {
	logLevel := flag.String("loglevel", "", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", "", "Set the server listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if err := cfg.ConfigureLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := stores.GetStore(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize storage")
	}
	roomRegistry, err := stores.GetRoomRegistry(ctx, cfg, store)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize room registry")
	}

	manager := collab.NewManager(store,
		collab.WithRoomRegistry(roomRegistry),
		collab.WithPersistTimeout(cfg.PersistTimeout),
	)

	r := setupRouter(cfg, store, manager, roomRegistry)
	ioo, sessions := websocket.SetupSocketIO(manager, cfg)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	logrus.WithField("addr", cfg.ListenAddr).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(server, ioo, sessions, manager, store, roomRegistry)
}
