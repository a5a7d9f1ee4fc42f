// Package trade реализует машину состояний обмена: проверку допустимости
// перехода и расчёт его эффектов. Пакет не имеет побочных эффектов сам по
// себе: решение применяется к хранилищу координатором транзакций, целиком
// или никак.
package trade

import (
	"errors"

	"github.com/mmeshcher/bookswap-system/internal/model"
)

// ErrInsufficientPoints возвращается, если у запрашивающего не хватает баллов на момент заявки.
var (
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrListingUnavailable возвращается, если по объявлению уже есть открытый обмен.
	ErrListingUnavailable = errors.New("listing unavailable")
	// ErrInvalidTransition возвращается, если действие недопустимо из текущего статуса.
	ErrInvalidTransition = errors.New("invalid trade transition")
	// ErrNotOwner возвращается, если действие владельца выполняет не владелец объявления.
	ErrNotOwner = errors.New("acting user is not the listing owner")
	// ErrNotRequester возвращается, если действие запрашивающего выполняет другой пользователь.
	ErrNotRequester = errors.New("acting user is not the trade requester")
	// ErrInvalidAmount возвращается при неположительной сумме движения баллов.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Action перечисляет действия над обменом.
type Action string

const (
	ActionRequest         Action = "request"
	ActionAccept          Action = "accept"
	ActionReject          Action = "reject"
	ActionCancel          Action = "cancel"
	ActionMarkReceived    Action = "mark_received"
	ActionMarkNotReceived Action = "mark_not_received"
)

// Snapshot содержит снимок состояния, прочитанный координатором под блокировкой
// строки объявления. Trade равен nil, если заявки по объявлению нет.
type Snapshot struct {
	ListingID        int64
	OwnerID          int64
	Price            int64
	Available        bool
	RequesterBalance int64
	Trade            *model.Trade
}

// Movement описывает одно движение баллов по счёту.
type Movement struct {
	AccountID int64
	Amount    int64
}

// Effects перечисляет эффекты одного перехода. Координатор применяет их в
// одной транзакции: либо все, либо ни одного.
type Effects struct {
	// Debit списывает баллы со счёта (эскроу при создании заявки).
	Debit *Movement
	// Credit начисляет баллы на счёт (возврат или выплата эскроу).
	Credit *Movement
	// SetAvailable, если задан, выставляет признак доступности объявления.
	SetAvailable *bool
	// CreateTrade означает вставку новой заявки со статусом NextStatus.
	CreateTrade bool
	// DeleteTrade означает удаление строки заявки (путь отмены).
	DeleteTrade bool
	// NextStatus — статус заявки после перехода, если она создаётся или остаётся.
	NextStatus model.TradeStatus
}

// Decide проверяет допустимость действия actor над состоянием snap и
// возвращает эффекты перехода. Любая ошибка означает отсутствие эффектов.
func Decide(snap Snapshot, action Action, actorID int64) (Effects, error) {
	switch action {
	case ActionRequest:
		return decideRequest(snap, actorID)
	case ActionAccept:
		return decideAccept(snap, actorID)
	case ActionReject:
		return resolveRequested(snap, actorID, roleOwner, model.TradeStatusRejected, true)
	case ActionCancel:
		return resolveRequested(snap, actorID, roleRequester, "", false)
	case ActionMarkReceived:
		return resolveAccepted(snap, actorID, model.TradeStatusCompleted)
	case ActionMarkNotReceived:
		return resolveAccepted(snap, actorID, model.TradeStatusFailed)
	}
	return Effects{}, ErrInvalidTransition
}

func decideRequest(snap Snapshot, actorID int64) (Effects, error) {
	if snap.Price <= 0 {
		return Effects{}, ErrInvalidAmount
	}
	if !snap.Available || snap.Trade != nil && snap.Trade.Status.IsOpen() {
		return Effects{}, ErrListingUnavailable
	}
	if snap.RequesterBalance < snap.Price {
		return Effects{}, ErrInsufficientPoints
	}

	unavailable := false
	return Effects{
		Debit:        &Movement{AccountID: actorID, Amount: snap.Price},
		SetAvailable: &unavailable,
		CreateTrade:  true,
		NextStatus:   model.TradeStatusRequested,
	}, nil
}

func decideAccept(snap Snapshot, actorID int64) (Effects, error) {
	if snap.Trade == nil {
		return Effects{}, ErrInvalidTransition
	}
	if actorID != snap.OwnerID {
		return Effects{}, ErrNotOwner
	}
	if snap.Trade.Status != model.TradeStatusRequested {
		return Effects{}, ErrInvalidTransition
	}
	// Баланс не меняется: эскроу продолжает удерживаться до разрешения обмена.
	return Effects{NextStatus: model.TradeStatusAccepted}, nil
}

type actorRole int

const (
	roleOwner actorRole = iota
	roleRequester
)

// resolveRequested закрывает заявку из статуса Requested. Отклонение и отмена
// различаются только ролью действующего лица и судьбой строки заявки (retain),
// поэтому реализованы одним путём: возврат эскроу запрашивающему и повторное
// открытие объявления общие для обоих.
func resolveRequested(snap Snapshot, actorID int64, role actorRole, next model.TradeStatus, retain bool) (Effects, error) {
	if snap.Trade == nil {
		return Effects{}, ErrInvalidTransition
	}
	if err := checkRole(snap, actorID, role); err != nil {
		return Effects{}, err
	}
	if snap.Trade.Status != model.TradeStatusRequested {
		return Effects{}, ErrInvalidTransition
	}

	relist := true
	eff := Effects{
		Credit:       &Movement{AccountID: snap.Trade.RequesterID, Amount: snap.Price},
		SetAvailable: &relist,
	}
	if retain {
		eff.NextStatus = next
	} else {
		eff.DeleteTrade = true
	}
	return eff, nil
}

// resolveAccepted закрывает заявку из статуса Accepted по слову запрашивающего:
// «получил» выплачивает эскроу владельцу, «не получил» возвращает его
// запрашивающему. Объявление в обоих случаях не выставляется заново.
func resolveAccepted(snap Snapshot, actorID int64, next model.TradeStatus) (Effects, error) {
	if snap.Trade == nil {
		return Effects{}, ErrInvalidTransition
	}
	if err := checkRole(snap, actorID, roleRequester); err != nil {
		return Effects{}, err
	}
	if snap.Trade.Status != model.TradeStatusAccepted {
		return Effects{}, ErrInvalidTransition
	}

	credited := snap.Trade.RequesterID
	if next == model.TradeStatusCompleted {
		credited = snap.OwnerID
	}
	return Effects{
		Credit:     &Movement{AccountID: credited, Amount: snap.Price},
		NextStatus: next,
	}, nil
}

func checkRole(snap Snapshot, actorID int64, role actorRole) error {
	switch role {
	case roleOwner:
		if actorID != snap.OwnerID {
			return ErrNotOwner
		}
	case roleRequester:
		if actorID != snap.Trade.RequesterID {
			return ErrNotRequester
		}
	}
	return nil
}
