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
		r.Post("/videos", app.UploadHandler)
		r.Get("/jobs/{jobID}", app.JobHandler)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/top", app.TopVideosHandler)
			r.Get("/sentiment", app.SentimentTrendHandler)
			r.Get("/keywords", app.KeywordsCloudHandler)
		})
	})

	return r
}
