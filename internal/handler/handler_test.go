package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookswap-system/internal/middleware"
	"github.com/mmeshcher/bookswap-system/internal/model"
	"github.com/mmeshcher/bookswap-system/internal/repository"
	"github.com/mmeshcher/bookswap-system/internal/service"
	"github.com/mmeshcher/bookswap-system/internal/trade"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	searchResp []model.Book
	searchErr  error

	addListingID  int64
	addListingErr error

	listingsResp []repository.ListingSummary
	listingsErr  error

	requestTradeResp *model.Trade
	requestTradeErr  error

	acceptResp *model.Trade
	acceptErr  error

	cancelErr error

	tradesResp []repository.TradeInfo
	tradesErr  error

	balanceResp *model.Balance
	balanceErr  error

	wishlistResp []model.Book
	wishlistErr  error
}

func (s *stubService) RegisterUser(ctx context.Context, username, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, username, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) SearchBooks(ctx context.Context, title, author, isbn string, limit int) ([]model.Book, error) {
	return s.searchResp, s.searchErr
}

func (s *stubService) AddListing(ctx context.Context, ownerID, bookID int64, price float64) (int64, error) {
	return s.addListingID, s.addListingErr
}

func (s *stubService) GetAvailableListings(ctx context.Context, limit int) ([]repository.ListingSummary, error) {
	return s.listingsResp, s.listingsErr
}

func (s *stubService) GetListingsByOwner(ctx context.Context, ownerID int64) ([]repository.ListingSummary, error) {
	return s.listingsResp, s.listingsErr
}

func (s *stubService) RequestTrade(ctx context.Context, listingID, requesterID int64) (*model.Trade, error) {
	return s.requestTradeResp, s.requestTradeErr
}

func (s *stubService) AcceptTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return s.acceptResp, s.acceptErr
}

func (s *stubService) RejectTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return s.acceptResp, s.acceptErr
}

func (s *stubService) CancelTrade(ctx context.Context, tradeID, actorID int64) error {
	return s.cancelErr
}

func (s *stubService) CompleteTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return s.acceptResp, s.acceptErr
}

func (s *stubService) FailTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return s.acceptResp, s.acceptErr
}

func (s *stubService) GetTradesByUser(ctx context.Context, userID int64) ([]repository.TradeInfo, error) {
	return s.tradesResp, s.tradesErr
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) AddToWishlist(ctx context.Context, userID, bookID int64) error {
	return s.wishlistErr
}

func (s *stubService) GetWishlist(ctx context.Context, userID int64) ([]model.Book, error) {
	return s.wishlistResp, s.wishlistErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

// doAuthorized выполняет запрос к маршрутизатору от имени пользователя 1.
func doAuthorized(t *testing.T, h *Handler, method, path string, body []byte) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)

	cookieRec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(cookieRec, 1)
	req.AddCookie(cookieRec.Result().Cookies()[0])

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	return rec.Result()
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Username: "reader",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("register must set the auth cookie")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{registerErr: repository.ErrUserExists}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Username: "reader", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{authErr: service.ErrInvalidCredentials}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Username: "reader", Password: "bad"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRequestTrade_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"insufficient points", trade.ErrInsufficientPoints, http.StatusPaymentRequired},
		{"listing unavailable", trade.ErrListingUnavailable, http.StatusConflict},
		{"already unavailable", repository.ErrAlreadyUnavailable, http.StatusConflict},
		{"contended", repository.ErrContended, http.StatusConflict},
		{"listing not found", repository.ErrListingNotFound, http.StatusNotFound},
		{"storage down", repository.ErrStorageUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{requestTradeErr: tt.err}
			h := newTestHandler(t, svc)

			res := doAuthorized(t, h, http.MethodPost, "/api/listings/10/request", nil)
			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRequestTrade_Contended_SetsRetryAfter(t *testing.T) {
	svc := &stubService{requestTradeErr: repository.ErrContended}
	h := newTestHandler(t, svc)

	res := doAuthorized(t, h, http.MethodPost, "/api/listings/10/request", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
	if res.Header.Get("Retry-After") == "" {
		t.Fatalf("contended response must carry Retry-After")
	}
}

func TestRequestTrade_Created(t *testing.T) {
	svc := &stubService{
		requestTradeResp: &model.Trade{
			ID:          77,
			ListingID:   10,
			RequesterID: 1,
			Status:      model.TradeStatusRequested,
		},
	}
	h := newTestHandler(t, svc)

	res := doAuthorized(t, h, http.MethodPost, "/api/listings/10/request", nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp tradeResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 77 || resp.Status != string(model.TradeStatusRequested) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAcceptTrade_Forbidden(t *testing.T) {
	svc := &stubService{acceptErr: trade.ErrNotOwner}
	h := newTestHandler(t, svc)

	res := doAuthorized(t, h, http.MethodPost, "/api/trades/77/accept", nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestAcceptTrade_InvalidTransition(t *testing.T) {
	svc := &stubService{acceptErr: trade.ErrInvalidTransition}
	h := newTestHandler(t, svc)

	res := doAuthorized(t, h, http.MethodPost, "/api/trades/77/accept", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestCancelTrade_NoContent(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := doAuthorized(t, h, http.MethodPost, "/api/trades/77/cancel", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestGetTrades_NoContent(t *testing.T) {
	svc := &stubService{tradesResp: []repository.TradeInfo{}}
	h := newTestHandler(t, svc)

	res := doAuthorized(t, h, http.MethodGet, "/api/trades", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestGetBalance_JSONResponse(t *testing.T) {
	svc := &stubService{
		balanceResp: &model.Balance{Current: 1.5, Escrowed: 30},
	}
	h := newTestHandler(t, svc)

	res := doAuthorized(t, h, http.MethodGet, "/api/user/balance", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var balance model.Balance
	if err := json.NewDecoder(res.Body).Decode(&balance); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if balance.Current != 1.5 || balance.Escrowed != 30 {
		t.Fatalf("unexpected balance: %+v", balance)
	}
}

func TestGetBalance_Unauthorized(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/balance", nil)
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestAddListing_BadPrice(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(addListingRequest{BookID: 2, Price: -1})

	res := doAuthorized(t, h, http.MethodPost, "/api/listings", body)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSearchBooks_RequiresQuery(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := doAuthorized(t, h, http.MethodGet, "/api/books/search", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSearchBooks_InvalidISBN(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := doAuthorized(t, h, http.MethodGet, "/api/books/search?isbn=123", nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}
