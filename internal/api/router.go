package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/server-time", ServerTimeHandler)
		r.Post("/auth/login", app.LoginHandler)
		r.Get("/clubs", app.ClubsHandler)
		r.Get("/bookings", app.BookingsHandler)
		r.Get("/bookings/{bookingID}/events", app.EventsHandler)

		r.Route("/verification/sessions", func(r chi.Router) {
			r.Post("/", app.StartSessionHandler)
			r.Get("/{sessionID}", app.GetSessionHandler)
			r.Get("/{sessionID}/events", app.SessionStreamHandler)
			r.Post("/{sessionID}/retry", app.RetrySessionHandler)
			r.Delete("/{sessionID}", app.TeardownSessionHandler)
		})
	})

	return r
}
