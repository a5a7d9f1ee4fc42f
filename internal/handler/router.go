package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/bookswap-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса обмена книгами.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/books/search", h.SearchBooks)

			r.Post("/listings", h.AddListing)
			r.Get("/listings", h.GetListings)
			r.Get("/listings/mine", h.GetOwnListings)
			r.Post("/listings/{id}/request", h.RequestTrade)

			r.Get("/trades", h.GetTrades)
			r.Post("/trades/{id}/accept", h.AcceptTrade)
			r.Post("/trades/{id}/reject", h.RejectTrade)
			r.Post("/trades/{id}/cancel", h.CancelTrade)
			r.Post("/trades/{id}/received", h.CompleteTrade)
			r.Post("/trades/{id}/not-received", h.FailTrade)

			r.Get("/user/balance", h.GetBalance)

			r.Post("/wishlist", h.AddToWishlist)
			r.Get("/wishlist", h.GetWishlist)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
