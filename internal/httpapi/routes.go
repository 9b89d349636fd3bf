package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gachastage/gacha-backend/internal/ws"
)

func SetupRoutes(a *API) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(a.Bus, a.Coord, a.Log))

	r.Route("/participants", func(r chi.Router) {
		r.Get("/", a.ListParticipants)
		r.Post("/", a.ImportParticipants)
		r.Delete("/", a.ClearParticipants)
		r.Delete("/{id}", a.RemoveParticipant)
	})

	r.Route("/prizes", func(r chi.Router) {
		r.Get("/", a.ListPrizes)
		r.Post("/", a.AddPrize)
		r.Patch("/{id}", a.UpdatePrize)
		r.Delete("/{id}", a.DeletePrize)
	})

	r.Route("/records", func(r chi.Router) {
		r.Get("/", a.ListRecords)
		r.Delete("/", a.ClearRecords)
	})

	r.Post("/draw", a.StartDraw)
	r.Post("/reset", a.Reset)
	r.Post("/close-modal", a.CloseModal)

	r.Get("/state", a.State)
	r.Get("/statistics", a.Statistics)
	r.Get("/export.csv", a.ExportCSV)

	r.Get("/settings", a.GetSettings)
	r.Put("/settings", a.UpdateSettings)

	return r
}
