package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bookswap-system/internal/model"
	"github.com/mmeshcher/bookswap-system/internal/trade"
)

// Координатор транзакций. Каждый переход обмена — одна транзакция:
// блокировка строки объявления (FOR UPDATE NOWAIT, конкурентный переход
// получает ErrContended), чтение снимка, решение машины состояний,
// применение эффектов, один коммит. Частичное применение эффектов снаружи
// транзакции не наблюдаемо ни при каком исходе. Переходы по одному
// объявлению линейно упорядочены блокировкой его строки.

// RequestTrade создаёт заявку на обмен по объявлению: списывает цену с
// запрашивающего в эскроу и резервирует объявление.
func (r *PostgresRepository) RequestTrade(ctx context.Context, listingID, requesterID int64) (*model.Trade, error) {
	return r.runTransition(ctx, trade.ActionRequest, requesterID, func(ctx context.Context, tx pgx.Tx) (trade.Snapshot, error) {
		snap, err := lockListing(ctx, tx, listingID)
		if err != nil {
			return trade.Snapshot{}, err
		}

		if err := tx.QueryRow(ctx,
			`SELECT points FROM users WHERE id = $1`,
			requesterID,
		).Scan(&snap.RequesterBalance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return trade.Snapshot{}, ErrUserNotFound
			}
			return trade.Snapshot{}, fmt.Errorf("select requester balance: %w", err)
		}

		return snap, nil
	})
}

// AcceptTrade переводит заявку в статус ACCEPTED по решению владельца.
func (r *PostgresRepository) AcceptTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return r.runTransition(ctx, trade.ActionAccept, actorID, r.snapshotByTrade(tradeID))
}

// RejectTrade отклоняет заявку по решению владельца: эскроу возвращается
// запрашивающему, объявление снова открыто, строка заявки сохраняется.
func (r *PostgresRepository) RejectTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return r.runTransition(ctx, trade.ActionReject, actorID, r.snapshotByTrade(tradeID))
}

// CancelTrade отменяет заявку по решению запрашивающего: эскроу возвращается,
// объявление снова открыто, строка заявки удаляется.
func (r *PostgresRepository) CancelTrade(ctx context.Context, tradeID, actorID int64) error {
	_, err := r.runTransition(ctx, trade.ActionCancel, actorID, r.snapshotByTrade(tradeID))
	return err
}

// CompleteTrade фиксирует получение книги запрашивающим: эскроу выплачивается
// владельцу, заявка завершается статусом COMPLETED.
func (r *PostgresRepository) CompleteTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return r.runTransition(ctx, trade.ActionMarkReceived, actorID, r.snapshotByTrade(tradeID))
}

// FailTrade фиксирует неполучение книги: эскроу возвращается запрашивающему,
// заявка завершается статусом FAILED.
func (r *PostgresRepository) FailTrade(ctx context.Context, tradeID, actorID int64) (*model.Trade, error) {
	return r.runTransition(ctx, trade.ActionMarkNotReceived, actorID, r.snapshotByTrade(tradeID))
}

// snapshotFn читает снимок состояния внутри транзакции, захватив блокировку
// строки объявления.
type snapshotFn func(ctx context.Context, tx pgx.Tx) (trade.Snapshot, error)

func (r *PostgresRepository) runTransition(ctx context.Context, action trade.Action, actorID int64, readSnapshot snapshotFn) (*model.Trade, error) {
	var result *model.Trade

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		snap, err := readSnapshot(ctx, tx)
		if err != nil {
			return err
		}

		eff, err := trade.Decide(snap, action, actorID)
		if err != nil {
			return err
		}

		result, err = applyEffects(ctx, tx, snap, eff, actorID)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, classifyErr(err)
	}

	return result, nil
}

// snapshotByTrade находит объявление по заявке и захватывает его блокировку.
// Заявка перечитывается уже под блокировкой: между первым чтением и захватом
// её статус мог измениться другим переходом.
func (r *PostgresRepository) snapshotByTrade(tradeID int64) snapshotFn {
	return func(ctx context.Context, tx pgx.Tx) (trade.Snapshot, error) {
		var listingID int64
		err := tx.QueryRow(ctx,
			`SELECT listing_id FROM trades WHERE id = $1`,
			tradeID,
		).Scan(&listingID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return trade.Snapshot{}, ErrTradeNotFound
			}
			return trade.Snapshot{}, fmt.Errorf("resolve trade listing: %w", err)
		}

		snap, err := lockListing(ctx, tx, listingID)
		if err != nil {
			return trade.Snapshot{}, err
		}

		var t model.Trade
		err = tx.QueryRow(ctx,
			`SELECT id, listing_id, requester_id, status, initiated_at FROM trades WHERE id = $1`,
			tradeID,
		).Scan(&t.ID, &t.ListingID, &t.RequesterID, &t.Status, &t.InitiatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return trade.Snapshot{}, ErrTradeNotFound
			}
			return trade.Snapshot{}, fmt.Errorf("reread trade: %w", err)
		}

		snap.Trade = &t
		return snap, nil
	}
}

func lockListing(ctx context.Context, tx pgx.Tx, listingID int64) (trade.Snapshot, error) {
	var snap trade.Snapshot
	err := tx.QueryRow(ctx,
		`SELECT id, owner_id, price, available FROM listings WHERE id = $1 FOR UPDATE NOWAIT`,
		listingID,
	).Scan(&snap.ListingID, &snap.OwnerID, &snap.Price, &snap.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return trade.Snapshot{}, ErrListingNotFound
		}
		return trade.Snapshot{}, fmt.Errorf("lock listing: %w", err)
	}
	return snap, nil
}

// applyEffects механически применяет решение машины состояний к хранилищу.
// Порядок фиксирован: движения баллов, доступность объявления, строка заявки.
func applyEffects(ctx context.Context, tx pgx.Tx, snap trade.Snapshot, eff trade.Effects, actorID int64) (*model.Trade, error) {
	if eff.Debit != nil {
		if err := debit(ctx, tx, eff.Debit.AccountID, eff.Debit.Amount); err != nil {
			return nil, err
		}
	}
	if eff.Credit != nil {
		if err := credit(ctx, tx, eff.Credit.AccountID, eff.Credit.Amount); err != nil {
			return nil, err
		}
	}

	if eff.SetAvailable != nil {
		var err error
		if *eff.SetAvailable {
			err = markAvailable(ctx, tx, snap.ListingID)
		} else {
			err = markUnavailable(ctx, tx, snap.ListingID)
		}
		if err != nil {
			return nil, err
		}
	}

	switch {
	case eff.CreateTrade:
		t := model.Trade{
			ListingID:   snap.ListingID,
			RequesterID: actorID,
			Status:      eff.NextStatus,
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO trades (listing_id, requester_id, status) VALUES ($1, $2, $3)
			 RETURNING id, initiated_at`,
			t.ListingID, t.RequesterID, string(t.Status),
		).Scan(&t.ID, &t.InitiatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert trade: %w", err)
		}
		return &t, nil

	case eff.DeleteTrade:
		cmdTag, err := tx.Exec(ctx,
			`DELETE FROM trades WHERE id = $1`,
			snap.Trade.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("delete trade: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return nil, ErrTradeNotFound
		}
		return nil, nil

	default:
		t := *snap.Trade
		t.Status = eff.NextStatus
		cmdTag, err := tx.Exec(ctx,
			`UPDATE trades SET status = $2 WHERE id = $1`,
			t.ID, string(t.Status),
		)
		if err != nil {
			return nil, fmt.Errorf("update trade status: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return nil, ErrTradeNotFound
		}
		return &t, nil
	}
}

// TradeInfo описывает заявку вместе с данными объявления и участников,
// в виде, пригодном для панели обменов пользователя.
type TradeInfo struct {
	Trade     model.Trade
	ListingID int64
	Price     int64
	Title     string
	Author    string
	Owner     string
	Requester string
}

// GetTradesByUser возвращает заявки, в которых пользователь участвует как
// владелец объявления или как запрашивающий.
func (r *PostgresRepository) GetTradesByUser(ctx context.Context, userID int64) ([]TradeInfo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.listing_id, t.requester_id, t.status, t.initiated_at,
		        l.id, l.price, b.title, b.author, uo.username, ur.username
		 FROM trades t
		 JOIN listings l ON l.id = t.listing_id
		 JOIN books b ON b.id = l.book_id
		 JOIN users uo ON uo.id = l.owner_id
		 JOIN users ur ON ur.id = t.requester_id
		 WHERE l.owner_id = $1 OR t.requester_id = $1
		 ORDER BY t.initiated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, classifyErr(fmt.Errorf("select trades: %w", err))
	}
	defer rows.Close()

	var res []TradeInfo
	for rows.Next() {
		var info TradeInfo
		err := rows.Scan(
			&info.Trade.ID, &info.Trade.ListingID, &info.Trade.RequesterID,
			&info.Trade.Status, &info.Trade.InitiatedAt,
			&info.ListingID, &info.Price, &info.Title, &info.Author,
			&info.Owner, &info.Requester,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		res = append(res, info)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyErr(fmt.Errorf("rows error: %w", err))
	}

	return res, nil
}
