package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mmeshcher/bookswap-system/internal/catalog"
	"github.com/mmeshcher/bookswap-system/internal/model"
	"github.com/mmeshcher/bookswap-system/internal/repository"
	"github.com/mmeshcher/bookswap-system/internal/trade"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type stubRepo struct {
	createUserID    int64
	createUserGrant int64
	createUserErr   error

	getUser    *model.User
	getUserErr error

	balanceCurrent  int64
	balanceEscrowed int64
	balanceErr      error

	cachedBook *model.Book
	savedBook  *model.Book

	createListingID    int64
	createListingPrice int64
	createListingBonus int64
	createListingErr   error

	requestTradeResp *model.Trade
	requestTradeErr  error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, username string, passwordHash []byte, signupGrant int64) (int64, error) {
	s.createUserGrant = signupGrant
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) GetBalance(ctx context.Context, userID int64) (int64, int64, error) {
	return s.balanceCurrent, s.balanceEscrowed, s.balanceErr
}

func (s *stubRepo) GetBookByWorkKey(ctx context.Context, workKey string) (*model.Book, error) {
	return s.cachedBook, nil
}

func (s *stubRepo) SaveBook(ctx context.Context, b model.Book) (*model.Book, error) {
	stored := b
	stored.ID = 42
	s.savedBook = &stored
	return &stored, nil
}

func (s *stubRepo) AddToWishlist(ctx context.Context, userID, bookID int64) error { return nil }

func (s *stubRepo) GetWishlist(ctx context.Context, userID int64) ([]model.Book, error) {
	return nil, nil
}

func (s *stubRepo) CreateListing(ctx context.Context, ownerID, bookID, price, listingBonus int64) (int64, error) {
	s.createListingPrice = price
	s.createListingBonus = listingBonus
	return s.createListingID, s.createListingErr
}

func (s *stubRepo) GetListing(ctx context.Context, id int64) (*model.Listing, error) {
	return nil, repository.ErrListingNotFound
}

func (s *stubRepo) GetAvailableListings(ctx context.Context, limit int) ([]repository.ListingSummary, error) {
	return nil, nil
}

func (s *stubRepo) GetListingsByOwner(ctx context.Context, ownerID int64) ([]repository.ListingSummary, error) {
	return nil, nil
}

func (s *stubRepo) RequestTrade(ctx context.Context, listingID, requesterID int64) (*model.Trade, error) {
	return s.requestTradeResp, s.requestTradeErr
}

func (s *stubRepo) AcceptTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return nil, nil
}

func (s *stubRepo) RejectTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return nil, nil
}

func (s *stubRepo) CancelTrade(ctx context.Context, tradeID, actorID int64) error { return nil }

func (s *stubRepo) CompleteTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return nil, nil
}

func (s *stubRepo) FailTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return nil, nil
}

func (s *stubRepo) GetTradesByUser(ctx context.Context, userID int64) ([]repository.TradeInfo, error) {
	return nil, nil
}

type stubCatalog struct {
	searchResp []catalog.SearchResult
	searchErr  error

	edition    *catalog.Edition
	editionErr error
}

func (s *stubCatalog) Search(ctx context.Context, title, author, isbn string, limit int) ([]catalog.SearchResult, error) {
	return s.searchResp, s.searchErr
}

func (s *stubCatalog) ResolveEdition(ctx context.Context, editionKeys []string) (*catalog.Edition, error) {
	return s.edition, s.editionErr
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc := NewService(repo, nil, 500)

	_, err := svc.RegisterUser(context.Background(), "reader", "pass")
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestRegisterUser_PassesSignupGrant(t *testing.T) {
	repo := &stubRepo{createUserID: 1}
	svc := NewService(repo, nil, 500)

	if _, err := svc.RegisterUser(context.Background(), "reader", "pass"); err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}
	if repo.createUserGrant != 500 {
		t.Fatalf("signup grant = %d, want 500", repo.createUserGrant)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("reader", "correct")
	repo := &stubRepo{
		getUser: &model.User{
			ID:           1,
			Username:     "reader",
			PasswordHash: hashed,
		},
	}

	svc := NewService(repo, nil, 0)

	_, err := svc.AuthenticateUser(context.Background(), "reader", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateUser_UnknownUser(t *testing.T) {
	repo := &stubRepo{getUserErr: repository.ErrUserNotFound}
	svc := NewService(repo, nil, 0)

	_, err := svc.AuthenticateUser(context.Background(), "nobody", "pass")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestGetBalance_ConvertsToPoints(t *testing.T) {
	repo := &stubRepo{
		balanceCurrent:  150,
		balanceEscrowed: 3000,
	}
	svc := NewService(repo, nil, 0)

	balance, err := svc.GetBalance(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}
	if balance.Current != 1.5 {
		t.Fatalf("Current = %v, want 1.5", balance.Current)
	}
	if balance.Escrowed != 30 {
		t.Fatalf("Escrowed = %v, want 30", balance.Escrowed)
	}
}

func TestAddListing_Validation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, 0)

	_, err := svc.AddListing(context.Background(), 1, 2, 0)
	if !errors.Is(err, trade.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestAddListing_ScalesPriceAndGrantsBonus(t *testing.T) {
	repo := &stubRepo{createListingID: 7}
	svc := NewService(repo, nil, 0)

	id, err := svc.AddListing(context.Background(), 1, 2, 30)
	if err != nil {
		t.Fatalf("AddListing error: %v", err)
	}
	if id != 7 {
		t.Fatalf("listing id = %d, want 7", id)
	}
	if repo.createListingPrice != 3000 {
		t.Fatalf("price = %d, want 3000", repo.createListingPrice)
	}
	if repo.createListingBonus != listingBonus {
		t.Fatalf("bonus = %d, want %d", repo.createListingBonus, listingBonus)
	}
}

func TestSearchBooks_ReturnsCached(t *testing.T) {
	cached := &model.Book{ID: 42, Title: "The Hobbit", OLWorkKey: "OL1W"}
	repo := &stubRepo{cachedBook: cached}
	cat := &stubCatalog{
		searchResp: []catalog.SearchResult{
			{WorkKey: "OL1W", Title: "The Hobbit", Author: "Tolkien"},
		},
		edition: &catalog.Edition{Key: "OL1M"},
	}

	svc := NewService(repo, cat, 0)

	books, err := svc.SearchBooks(context.Background(), "hobbit", "", "", 1)
	if err != nil {
		t.Fatalf("SearchBooks error: %v", err)
	}
	if len(books) != 1 || books[0].ID != 42 {
		t.Fatalf("unexpected books: %+v", books)
	}
	if repo.savedBook != nil {
		t.Fatalf("cached book must not be saved again")
	}
}

func TestSearchBooks_SavesResolvedEdition(t *testing.T) {
	repo := &stubRepo{}
	cat := &stubCatalog{
		searchResp: []catalog.SearchResult{
			{WorkKey: "OL2W", Title: "Dune", Author: "Herbert", EditionKeys: []string{"OL2M"}},
		},
		edition: &catalog.Edition{
			Key:      "OL2M",
			ISBN13:   "9780441172719",
			CoverURL: "http://covers.openlibrary.org/b/olid/OL2M-L.jpg",
		},
	}

	svc := NewService(repo, cat, 0)

	books, err := svc.SearchBooks(context.Background(), "dune", "", "", 1)
	if err != nil {
		t.Fatalf("SearchBooks error: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("unexpected books: %+v", books)
	}

	saved := repo.savedBook
	if saved == nil {
		t.Fatalf("resolved book was not saved")
	}
	if saved.OLWorkKey != "OL2W" || saved.OLEditionKey == nil || *saved.OLEditionKey != "OL2M" {
		t.Fatalf("unexpected saved book: %+v", saved)
	}
	if saved.ISBN == nil || *saved.ISBN != "9780441172719" {
		t.Fatalf("unexpected saved ISBN: %v", saved.ISBN)
	}
}

func TestRequestTrade_PassesThroughTypedErrors(t *testing.T) {
	repo := &stubRepo{requestTradeErr: trade.ErrInsufficientPoints}
	svc := NewService(repo, nil, 0)

	_, err := svc.RequestTrade(context.Background(), 10, 2)
	if !errors.Is(err, trade.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
}
