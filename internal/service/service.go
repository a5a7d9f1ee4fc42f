// Package service реализует бизнес-логику сервиса обмена книгами.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mmeshcher/bookswap-system/internal/catalog"
	"github.com/mmeshcher/bookswap-system/internal/model"
	"github.com/mmeshcher/bookswap-system/internal/repository"
	"github.com/mmeshcher/bookswap-system/internal/trade"
)

// pointsScale — количество хранимых единиц в одном балле: баллы лежат в БД
// в сотых долях, наружу отдаются дробным числом.
const pointsScale = 100

// listingBonus — бонус владельцу за размещение объявления, 0.1 балла.
const listingBonus = 10

// ErrInvalidCredentials возвращается при неверной паре имя/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, username string, passwordHash []byte, signupGrant int64) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (int64, int64, error)

	GetBookByWorkKey(ctx context.Context, workKey string) (*model.Book, error)
	SaveBook(ctx context.Context, b model.Book) (*model.Book, error)
	AddToWishlist(ctx context.Context, userID, bookID int64) error
	GetWishlist(ctx context.Context, userID int64) ([]model.Book, error)

	CreateListing(ctx context.Context, ownerID, bookID, price, listingBonus int64) (int64, error)
	GetListing(ctx context.Context, id int64) (*model.Listing, error)
	GetAvailableListings(ctx context.Context, limit int) ([]repository.ListingSummary, error)
	GetListingsByOwner(ctx context.Context, ownerID int64) ([]repository.ListingSummary, error)

	RequestTrade(ctx context.Context, listingID, requesterID int64) (*model.Trade, error)
	AcceptTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error)
	RejectTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error)
	CancelTrade(ctx context.Context, tradeID, actorID int64) error
	CompleteTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error)
	FailTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error)
	GetTradesByUser(ctx context.Context, userID int64) ([]repository.TradeInfo, error)
}

// Catalog описывает контракт клиента внешнего каталога книг.
type Catalog interface {
	Search(ctx context.Context, title, author, isbn string, limit int) ([]catalog.SearchResult, error)
	ResolveEdition(ctx context.Context, editionKeys []string) (*catalog.Edition, error)
}

// Service содержит бизнес-логику сервиса обмена книгами.
type Service struct {
	repo        Repository
	catalog     Catalog
	signupGrant int64
}

// NewService создаёт сервис с указанным репозиторием, клиентом каталога и
// стартовым начислением баллов новым пользователям (в сотых долях балла).
func NewService(repo Repository, cat Catalog, signupGrant int64) *Service {
	return &Service{
		repo:        repo,
		catalog:     cat,
		signupGrant: signupGrant,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя со стартовым начислением баллов.
func (s *Service) RegisterUser(ctx context.Context, username, password string) (int64, error) {
	hashed := hashPassword(username, password)
	id, err := s.repo.CreateUser(ctx, username, hashed, s.signupGrant)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет имя и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (int64, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(username, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(username, password string) []byte {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return sum[:]
}

// SearchBooks ищет книги во внешнем каталоге и кэширует карточки найденных
// работ локально. Для не виданной ранее работы выбирается первое подходящее
// издание: оно даёт ISBN и обложку.
func (s *Service) SearchBooks(ctx context.Context, title, author, isbn string, limit int) ([]model.Book, error) {
	results, err := s.catalog.Search(ctx, title, author, isbn, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}

	books := make([]model.Book, 0, len(results))
	for _, result := range results {
		book, err := s.resolveBook(ctx, result)
		if err != nil {
			return nil, err
		}
		books = append(books, *book)
	}

	return books, nil
}

func (s *Service) resolveBook(ctx context.Context, result catalog.SearchResult) (*model.Book, error) {
	cached, err := s.repo.GetBookByWorkKey(ctx, result.WorkKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	b := model.Book{
		Title:     result.Title,
		Author:    result.Author,
		OLWorkKey: result.WorkKey,
	}

	edition, err := s.catalog.ResolveEdition(ctx, result.EditionKeys)
	if err != nil {
		return nil, fmt.Errorf("resolve edition: %w", err)
	}
	if edition != nil {
		b.OLEditionKey = &edition.Key
		b.ISBN = &edition.ISBN13
		b.CoverImageURL = &edition.CoverURL
	}

	return s.repo.SaveBook(ctx, b)
}

// AddListing выставляет книгу на обмен по указанной цене в баллах и
// начисляет владельцу бонус за размещение.
func (s *Service) AddListing(ctx context.Context, ownerID, bookID int64, price float64) (int64, error) {
	priceCents := int64(price * pointsScale)
	if priceCents <= 0 {
		return 0, trade.ErrInvalidAmount
	}
	return s.repo.CreateListing(ctx, ownerID, bookID, priceCents, listingBonus)
}

// GetAvailableListings возвращает открытые для обмена объявления.
func (s *Service) GetAvailableListings(ctx context.Context, limit int) ([]repository.ListingSummary, error) {
	return s.repo.GetAvailableListings(ctx, limit)
}

// GetListingsByOwner возвращает объявления пользователя.
func (s *Service) GetListingsByOwner(ctx context.Context, ownerID int64) ([]repository.ListingSummary, error) {
	return s.repo.GetListingsByOwner(ctx, ownerID)
}

// RequestTrade создаёт заявку на обмен от имени запрашивающего.
func (s *Service) RequestTrade(ctx context.Context, listingID, requesterID int64) (*model.Trade, error) {
	return s.repo.RequestTrade(ctx, listingID, requesterID)
}

// AcceptTrade принимает заявку от имени владельца объявления.
func (s *Service) AcceptTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return s.repo.AcceptTrade(ctx, tradeID, actorID)
}

// RejectTrade отклоняет заявку от имени владельца объявления.
func (s *Service) RejectTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return s.repo.RejectTrade(ctx, tradeID, actorID)
}

// CancelTrade отменяет заявку от имени запрашивающего.
func (s *Service) CancelTrade(ctx context.Context, tradeID, actorID int64) error {
	return s.repo.CancelTrade(ctx, tradeID, actorID)
}

// CompleteTrade фиксирует получение книги запрашивающим.
func (s *Service) CompleteTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return s.repo.CompleteTrade(ctx, tradeID, actorID)
}

// FailTrade фиксирует неполучение книги запрашивающим.
func (s *Service) FailTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return s.repo.FailTrade(ctx, tradeID, actorID)
}

// GetTradesByUser возвращает обмены, в которых участвует пользователь.
func (s *Service) GetTradesByUser(ctx context.Context, userID int64) ([]repository.TradeInfo, error) {
	return s.repo.GetTradesByUser(ctx, userID)
}

// GetBalance возвращает баланс пользователя в виде структуры model.Balance.
// Значение не авторитетно для переходов: решающая проверка выполняется при
// списании внутри транзакции координатора.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	current, escrowed, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Current:  float64(current) / pointsScale,
		Escrowed: float64(escrowed) / pointsScale,
	}, nil
}

// AddToWishlist добавляет книгу в список желаний пользователя.
func (s *Service) AddToWishlist(ctx context.Context, userID, bookID int64) error {
	return s.repo.AddToWishlist(ctx, userID, bookID)
}

// GetWishlist возвращает список желаний пользователя.
func (s *Service) GetWishlist(ctx context.Context, userID int64) ([]model.Book, error) {
	return s.repo.GetWishlist(ctx, userID)
}
