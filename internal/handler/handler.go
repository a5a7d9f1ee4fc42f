// Package handler содержит HTTP-обработчики API сервиса обмена книгами.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/bookswap-system/internal/middleware"
	"github.com/mmeshcher/bookswap-system/internal/model"
	"github.com/mmeshcher/bookswap-system/internal/repository"
	"github.com/mmeshcher/bookswap-system/internal/service"
	"github.com/mmeshcher/bookswap-system/internal/trade"
	"github.com/mmeshcher/bookswap-system/internal/validation"
)

const defaultListingsLimit = 50

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, username, password string) (int64, error)
	AuthenticateUser(ctx context.Context, username, password string) (int64, error)
	SearchBooks(ctx context.Context, title, author, isbn string, limit int) ([]model.Book, error)
	AddListing(ctx context.Context, ownerID, bookID int64, price float64) (int64, error)
	GetAvailableListings(ctx context.Context, limit int) ([]repository.ListingSummary, error)
	GetListingsByOwner(ctx context.Context, ownerID int64) ([]repository.ListingSummary, error)
	RequestTrade(ctx context.Context, listingID, requesterID int64) (*model.Trade, error)
	AcceptTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error)
	RejectTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error)
	CancelTrade(ctx context.Context, tradeID, actorID int64) error
	CompleteTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error)
	FailTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error)
	GetTradesByUser(ctx context.Context, userID int64) ([]repository.TradeInfo, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	AddToWishlist(ctx context.Context, userID, bookID int64) error
	GetWishlist(ctx context.Context, userID int64) ([]model.Book, error)
}

// Handler реализует HTTP-обработчики API сервиса обмена книгами.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type bookResponse struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	ISBN          *string `json:"isbn,omitempty"`
	CoverImageURL *string `json:"cover_image_url,omitempty"`
}

func toBookResponse(b model.Book) bookResponse {
	return bookResponse{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		ISBN:          b.ISBN,
		CoverImageURL: b.CoverImageURL,
	}
}

// SearchBooks ищет книги во внешнем каталоге по названию, автору или ISBN.
func (h *Handler) SearchBooks(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	author := r.URL.Query().Get("author")
	isbn := r.URL.Query().Get("isbn")

	if title == "" && author == "" && isbn == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if isbn != "" && !validation.IsValidISBN(isbn) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	books, err := h.service.SearchBooks(r.Context(), title, author, isbn, limit)
	if err != nil {
		h.logger.Error("search books error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	resp := make([]bookResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, toBookResponse(b))
	}

	writeJSON(w, h.logger, resp)
}

type addListingRequest struct {
	BookID int64   `json:"book_id"`
	Price  float64 `json:"price"`
}

// AddListing выставляет книгу текущего пользователя на обмен.
func (h *Handler) AddListing(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req addListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.BookID <= 0 || req.Price <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.AddListing(r.Context(), userID, req.BookID, req.Price)
	if err != nil {
		h.writeTradeError(w, err, "add listing")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]int64{"id": id}); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type listingResponse struct {
	ID        int64        `json:"id"`
	Owner     string       `json:"owner"`
	Price     float64      `json:"price"`
	Available bool         `json:"available"`
	CreatedAt string       `json:"created_at"`
	Book      bookResponse `json:"book"`
}

func toListingResponses(summaries []repository.ListingSummary) []listingResponse {
	resp := make([]listingResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, listingResponse{
			ID:        s.Listing.ID,
			Owner:     s.Owner,
			Price:     float64(s.Listing.Price) / 100,
			Available: s.Listing.Available,
			CreatedAt: s.Listing.CreatedAt.Format(time.RFC3339),
			Book:      toBookResponse(s.Book),
		})
	}
	return resp
}

// GetListings возвращает открытые для обмена объявления.
func (h *Handler) GetListings(w http.ResponseWriter, r *http.Request) {
	limit := defaultListingsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	listings, err := h.service.GetAvailableListings(r.Context(), limit)
	if err != nil {
		h.logger.Error("get listings error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(listings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, h.logger, toListingResponses(listings))
}

// GetOwnListings возвращает объявления текущего пользователя.
func (h *Handler) GetOwnListings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	listings, err := h.service.GetListingsByOwner(r.Context(), userID)
	if err != nil {
		h.logger.Error("get own listings error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(listings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, h.logger, toListingResponses(listings))
}

type tradeResponse struct {
	ID          int64  `json:"id"`
	ListingID   int64  `json:"listing_id"`
	Status      string `json:"status"`
	InitiatedAt string `json:"initiated_at"`
}

func toTradeResponse(t *model.Trade) tradeResponse {
	return tradeResponse{
		ID:          t.ID,
		ListingID:   t.ListingID,
		Status:      string(t.Status),
		InitiatedAt: t.InitiatedAt.Format(time.RFC3339),
	}
}

// RequestTrade создаёт заявку на обмен по объявлению от имени текущего пользователя.
func (h *Handler) RequestTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	listingID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || listingID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.RequestTrade(r.Context(), listingID, userID)
	if err != nil {
		h.writeTradeError(w, err, "request trade")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toTradeResponse(t)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// tradeAction выполняет переход обмена по идентификатору заявки.
func (h *Handler) tradeAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tradeID, actorID int64) (*model.Trade, error), action string) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	tradeID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || tradeID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := fn(r.Context(), tradeID, userID)
	if err != nil {
		h.writeTradeError(w, err, action)
		return
	}

	writeJSON(w, h.logger, toTradeResponse(t))
}

// AcceptTrade принимает заявку от имени владельца объявления.
func (h *Handler) AcceptTrade(w http.ResponseWriter, r *http.Request) {
	h.tradeAction(w, r, h.service.AcceptTrade, "accept trade")
}

// RejectTrade отклоняет заявку от имени владельца объявления.
func (h *Handler) RejectTrade(w http.ResponseWriter, r *http.Request) {
	h.tradeAction(w, r, h.service.RejectTrade, "reject trade")
}

// CancelTrade отменяет заявку от имени запрашивающего.
func (h *Handler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	tradeID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || tradeID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CancelTrade(r.Context(), tradeID, userID); err != nil {
		h.writeTradeError(w, err, "cancel trade")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CompleteTrade фиксирует получение книги текущим пользователем.
func (h *Handler) CompleteTrade(w http.ResponseWriter, r *http.Request) {
	h.tradeAction(w, r, h.service.CompleteTrade, "complete trade")
}

// FailTrade фиксирует неполучение книги текущим пользователем.
func (h *Handler) FailTrade(w http.ResponseWriter, r *http.Request) {
	h.tradeAction(w, r, h.service.FailTrade, "fail trade")
}

type tradeInfoResponse struct {
	ID          int64   `json:"id"`
	ListingID   int64   `json:"listing_id"`
	Status      string  `json:"status"`
	Price       float64 `json:"price"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Owner       string  `json:"owner"`
	Requester   string  `json:"requester"`
	InitiatedAt string  `json:"initiated_at"`
}

// GetTrades возвращает обмены текущего пользователя.
func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	trades, err := h.service.GetTradesByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get trades error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(trades) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]tradeInfoResponse, 0, len(trades))
	for _, info := range trades {
		resp = append(resp, tradeInfoResponse{
			ID:          info.Trade.ID,
			ListingID:   info.ListingID,
			Status:      string(info.Trade.Status),
			Price:       float64(info.Price) / 100,
			Title:       info.Title,
			Author:      info.Author,
			Owner:       info.Owner,
			Requester:   info.Requester,
			InitiatedAt: info.Trade.InitiatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, h.logger, resp)
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, balance)
}

type wishlistRequest struct {
	BookID int64 `json:"book_id"`
}

// AddToWishlist добавляет книгу в список желаний текущего пользователя.
func (h *Handler) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req wishlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AddToWishlist(r.Context(), userID, req.BookID); err != nil {
		h.logger.Error("add to wishlist error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetWishlist возвращает список желаний текущего пользователя.
func (h *Handler) GetWishlist(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	books, err := h.service.GetWishlist(r.Context(), userID)
	if err != nil {
		h.logger.Error("get wishlist error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(books) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]bookResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, toBookResponse(b))
	}

	writeJSON(w, h.logger, resp)
}

// writeTradeError переводит типизированные ошибки ядра в HTTP-статусы.
func (h *Handler) writeTradeError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, trade.ErrInsufficientPoints):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	case errors.Is(err, trade.ErrListingUnavailable),
		errors.Is(err, trade.ErrInvalidTransition),
		errors.Is(err, repository.ErrAlreadyUnavailable):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, repository.ErrContended):
		w.Header().Set("Retry-After", "1")
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, trade.ErrNotOwner), errors.Is(err, trade.ErrNotRequester):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, repository.ErrListingNotFound),
		errors.Is(err, repository.ErrTradeNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, trade.ErrInvalidAmount):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, repository.ErrStorageUnavailable):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	default:
		h.logger.Error(action+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
