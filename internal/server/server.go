package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/soundloop/collab/internal/bus"
	"github.com/soundloop/collab/internal/dispatch"
	"github.com/soundloop/collab/internal/hub"
	"github.com/soundloop/collab/internal/router"
	"github.com/soundloop/collab/internal/server/middleware"
	"github.com/soundloop/collab/pkg/config"
	"github.com/soundloop/collab/pkg/metrics"
	"github.com/soundloop/collab/pkg/presence"
	"github.com/soundloop/collab/pkg/presence/store"
	"github.com/soundloop/collab/pkg/transport"
)

type App struct {
	logger      *slog.Logger
	store       presence.Store
	rooms       *hub.Rooms
	hub         *hub.Hub
	dispatcher  *dispatch.Dispatcher
	eventRouter *router.EventRouter
	bus         *bus.Bus
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	st := store.New(rootCtx, cfg.Store, logger)

	// The bus only exists in redis mode; without it, broadcasts stay
	// instance-local, which is exactly what the in-memory store promises.
	var b *bus.Bus
	if cfg.Store.Backend == "redis" {
		var err error
		b, err = bus.New(rootCtx, cfg.Store, logger)
		if err != nil {
			logger.Warn("Bus unavailable, broadcasts stay instance-local", slog.Any("error", err))
			b = nil
		}
	}

	rooms := hub.NewRooms()
	h := hub.New(logger, st, rooms, b)
	d := dispatch.New(logger, st, rooms, h, b)
	eventRouter := router.NewEventRouter(logger, h, d)

	app := &App{
		logger:      logger,
		store:       st,
		rooms:       rooms,
		hub:         h,
		dispatcher:  d,
		eventRouter: eventRouter,
		bus:         b,
		config:      cfg,
		ctx:         rootCtx,
	}

	// Evicts the oldest session when a user exceeds the limit in "cycle" mode.
	connCycler := func(userID string) {
		oldest, found := h.OldestLocalSession(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", slog.String("userID", userID), slog.String("sid", oldest.SID()))
			oldest.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret),
			middleware.NewConnectionLimiter(
				logger,
				h.SessionCount,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Dispatcher exposes the fan-out surface for business-logic callers:
// board mutation handlers broadcast after committing, notification
// creators push the realtime nudge after persisting.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

func (a *App) Run() error {
	if a.bus != nil {
		go a.bus.Subscribe(a.ctx, a.handleBusMessage)
	}

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

// handleBusMessage delivers frames relayed by other instances to the
// sessions that live here.
func (a *App) handleBusMessage(m bus.Message) {
	switch m.Kind {
	case bus.KindBoard:
		a.rooms.Broadcast(m.Key, m.Frame, "")
	case bus.KindUser:
		for _, sess := range a.hub.LocalUserSessions(m.Key) {
			sess.Send(m.Frame)
		}
	}
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)

	a.hub.OnConnect(a.ctx, conn, reqMeta.UserID, reqMeta.Username)
	metrics.ActiveConnections.Inc()

	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(sid string, err error) {
		connLogger.Info("Cleaning up connection after closure", slog.String("sid", sid))
		// The request context is gone by now; cleanup gets its own.
		a.hub.OnDisconnect(context.Background(), sid)
		metrics.ActiveConnections.Dec()
	})

	connLogger.Info("Connection fully established", slog.String("sid", conn.SID()))
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	a.hub.CloseAll(errors.New("graceful shutdown"))

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()

	if a.bus != nil {
		a.bus.Close()
	}
	if closer, ok := a.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}
