package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/tavern-room/backend/internal/handler/chat"
	"github.com/zhouzirui/tavern-room/backend/internal/handler/realtime"
	middlewarePkg "github.com/zhouzirui/tavern-room/backend/internal/middleware"
	chatService "github.com/zhouzirui/tavern-room/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-room/backend/internal/service/profile"
	"github.com/zhouzirui/tavern-room/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, profiles profile.Store, auth *middlewarePkg.Auth, origins *middlewarePkg.OriginPolicy, connectionBuffer int) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(origins.CORS)

	// Create handlers
	chatHandler := chat.New(chatSvc, auth, profiles)
	realtimeHandler := realtime.New(chatSvc, auth, origins, connectionBuffer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"default_room": chatSvc.DefaultRoom(),
			"responder":    chatSvc.ResponderName(),
			"rooms":        chatSvc.Stats(),
		})
	})

	// Realtime chat over websocket
	realtimeHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		realtimeHandler.RegisterAPIRoutes(api)
	})

	return r
}
