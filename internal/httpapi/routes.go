package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/match-server/internal/dispatch"
	"github.com/DoyleJ11/match-server/internal/hub"
	"github.com/DoyleJ11/match-server/internal/ws"
)

type Deps struct {
	Hub            *hub.Hub
	Dispatcher     *dispatch.Dispatcher
	WS             ws.Options
	AllowedOrigins []string
	Logger         *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	wsOpts := d.WS
	if len(wsOpts.OriginPatterns) == 0 {
		wsOpts.OriginPatterns = d.AllowedOrigins
	}
	socket := ws.Handler(d.Dispatcher, d.Hub, wsOpts, d.Logger)

	// Websocket, at the root for the original web client
	r.Get("/", socket)
	r.Get("/ws", socket)

	r.Get("/healthz", Healthz)
	r.Get("/games", ListGames(d.Hub))
	r.Get("/stats", Stats(d.Hub))

	c := cors.New(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(r)
}
