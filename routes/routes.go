package routes

import (
	"net/http"
	"time"

	"github.com/Dosada05/pong-arena/handlers"
	"github.com/Dosada05/pong-arena/middleware"
	"github.com/Dosada05/pong-arena/models"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"
)

type Handlers struct {
	Auth       *middleware.Authenticator
	Room       *handlers.RoomHandler
	Match      *handlers.MatchHandler
	Tournament *handlers.TournamentHandler
	Admin      *handlers.AdminHandler
	WebSocket  *handlers.WebSocketHandler
}

func SetupRoutes(router chi.Router, h Handlers, allowedOrigins []string) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// WebSocket сам проверяет токен: браузер передает его в query.
	router.Get("/ws/rooms/{roomID}", h.WebSocket.ServeWs)

	router.Route("/api", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(15 * time.Second))

		// Публичные маршруты для просмотра
		r.Get("/rooms", h.Room.ListHandler)
		r.Get("/rooms/{roomID}", h.Room.GetByIDHandler)
		r.Get("/rooms/{roomID}/tournament", h.Tournament.ByRoomHandler)
		r.Get("/matches/{matchID}", h.Match.GetByIDHandler)
		r.Get("/tournaments/{tournamentID}", h.Tournament.GetByIDHandler)
		r.Get("/tournaments/{tournamentID}/bracket", h.Tournament.BracketHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Authenticate)

			r.Post("/rooms", h.Room.CreateHandler)
			r.Post("/rooms/{roomID}/join", h.Room.JoinHandler)
			r.Post("/rooms/{roomID}/leave", h.Room.LeaveHandler)

			// Защищенные маршруты только для администраторов
			r.Group(func(r chi.Router) {
				r.Use(middleware.Authorize(models.RoleAdmin))

				r.Post("/matches/{matchID}/stop", h.Admin.StopMatchHandler)
				r.Get("/admin/matches", h.Admin.ActiveMatchesHandler)
			})
		})
	})
}
