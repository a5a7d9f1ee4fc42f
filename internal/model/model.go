// Package model содержит доменные сущности сервиса обмена книгами.
package model

import "time"

// User представляет зарегистрированного пользователя системы обмена.
// Поле Points хранится в сотых долях балла и изменяется только операциями
// дебета/кредита внутри транзакции координатора.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	Points       int64
	CreatedAt    time.Time
}

// Book описывает локально закэшированную карточку книги из внешнего каталога.
type Book struct {
	ID            int64
	Title         string
	Author        string
	ISBN          *string
	OLWorkKey     string
	OLEditionKey  *string
	CoverImageURL *string
}

// Listing описывает выставленный на обмен экземпляр книги.
type Listing struct {
	ID        int64
	OwnerID   int64
	BookID    int64
	Price     int64
	Available bool
	CreatedAt time.Time
}

// TradeStatus описывает статус обмена.
type TradeStatus string

const (
	TradeStatusRequested TradeStatus = "REQUESTED"
	TradeStatusAccepted  TradeStatus = "ACCEPTED"
	TradeStatusRejected  TradeStatus = "REJECTED"
	// TradeStatusShipped зарезервирован за промежуточным статусом исходной
	// схемы (код 5). Переходы для него не определены: любое действие над
	// обменом в этом статусе отклоняется без побочных эффектов.
	TradeStatusShipped   TradeStatus = "SHIPPED"
	TradeStatusCompleted TradeStatus = "COMPLETED"
	TradeStatusFailed    TradeStatus = "FAILED"
)

// Code возвращает числовой код статуса из исходной схемы БД.
func (s TradeStatus) Code() int {
	switch s {
	case TradeStatusRequested:
		return 2
	case TradeStatusAccepted:
		return 3
	case TradeStatusRejected:
		return 4
	case TradeStatusShipped:
		return 5
	case TradeStatusCompleted:
		return 6
	case TradeStatusFailed:
		return 7
	}
	return 0
}

// IsOpen сообщает, входит ли статус в открытое множество: пока обмен открыт,
// объявление зарезервировано, а баллы запрашивающего находятся в эскроу.
func (s TradeStatus) IsOpen() bool {
	return s == TradeStatusRequested || s == TradeStatusAccepted
}

// IsTerminal сообщает, является ли статус финальным.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeStatusRejected, TradeStatusCompleted, TradeStatusFailed:
		return true
	}
	return false
}

// Trade описывает заявку на обмен по одному объявлению.
type Trade struct {
	ID          int64
	ListingID   int64
	RequesterID int64
	Status      TradeStatus
	InitiatedAt time.Time
}

// Balance содержит доступный баланс пользователя и сумму его баллов в эскроу.
type Balance struct {
	Current  float64 `json:"current"`
	Escrowed float64 `json:"escrowed"`
}
