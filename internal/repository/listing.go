package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bookswap-system/internal/model"
)

// CreateListing создаёт объявление и начисляет владельцу бонус за размещение
// в той же транзакции. Бонус — намеренная эмиссия баллов, единственная
// наряду со стартовым начислением при регистрации.
func (r *PostgresRepository) CreateListing(ctx context.Context, ownerID, bookID, price, listingBonus int64) (int64, error) {
	var id int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`INSERT INTO listings (owner_id, book_id, price) VALUES ($1, $2, $3) RETURNING id`,
			ownerID, bookID, price,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}

		if listingBonus > 0 {
			if err := credit(ctx, tx, ownerID, listingBonus); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, classifyErr(err)
	}

	return id, nil
}

// GetListing возвращает объявление по идентификатору.
func (r *PostgresRepository) GetListing(ctx context.Context, id int64) (*model.Listing, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, book_id, price, available, created_at FROM listings WHERE id = $1`,
		id,
	)

	var l model.Listing
	err := row.Scan(&l.ID, &l.OwnerID, &l.BookID, &l.Price, &l.Available, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, classifyErr(fmt.Errorf("get listing: %w", err))
	}

	return &l, nil
}

// ListingSummary описывает объявление вместе с карточкой книги для выдачи.
type ListingSummary struct {
	Listing model.Listing
	Book    model.Book
	Owner   string
}

// GetAvailableListings возвращает последние открытые для обмена объявления.
func (r *PostgresRepository) GetAvailableListings(ctx context.Context, limit int) ([]ListingSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT l.id, l.owner_id, l.book_id, l.price, l.available, l.created_at,
		        b.id, b.title, b.author, b.isbn, b.ol_work_key, b.ol_edition_key, b.cover_image_url,
		        u.username
		 FROM listings l
		 JOIN books b ON b.id = l.book_id
		 JOIN users u ON u.id = l.owner_id
		 WHERE l.available
		 ORDER BY l.created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, classifyErr(fmt.Errorf("select listings: %w", err))
	}
	defer rows.Close()

	return scanListingSummaries(rows)
}

// GetListingsByOwner возвращает объявления пользователя, включая занятые.
func (r *PostgresRepository) GetListingsByOwner(ctx context.Context, ownerID int64) ([]ListingSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT l.id, l.owner_id, l.book_id, l.price, l.available, l.created_at,
		        b.id, b.title, b.author, b.isbn, b.ol_work_key, b.ol_edition_key, b.cover_image_url,
		        u.username
		 FROM listings l
		 JOIN books b ON b.id = l.book_id
		 JOIN users u ON u.id = l.owner_id
		 WHERE l.owner_id = $1
		 ORDER BY l.created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, classifyErr(fmt.Errorf("select own listings: %w", err))
	}
	defer rows.Close()

	return scanListingSummaries(rows)
}

func scanListingSummaries(rows pgx.Rows) ([]ListingSummary, error) {
	var res []ListingSummary
	for rows.Next() {
		var s ListingSummary
		err := rows.Scan(
			&s.Listing.ID, &s.Listing.OwnerID, &s.Listing.BookID, &s.Listing.Price,
			&s.Listing.Available, &s.Listing.CreatedAt,
			&s.Book.ID, &s.Book.Title, &s.Book.Author, &s.Book.ISBN,
			&s.Book.OLWorkKey, &s.Book.OLEditionKey, &s.Book.CoverImageURL,
			&s.Owner,
		)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyErr(fmt.Errorf("rows error: %w", err))
	}

	return res, nil
}

// Охрана доступности объявления. Вызывается только из транзакции
// координатора, под блокировкой строки объявления.

// markUnavailable закрывает объявление для новых заявок. Отказ при уже
// занятом объявлении защищает инвариант «не более одного открытого обмена»
// от гонки двух одновременных заявок.
func markUnavailable(ctx context.Context, tx pgx.Tx, listingID int64) error {
	cmdTag, err := tx.Exec(ctx,
		`UPDATE listings SET available = false WHERE id = $1 AND available`,
		listingID,
	)
	if err != nil {
		return fmt.Errorf("mark listing %d unavailable: %w", listingID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrAlreadyUnavailable
	}
	return nil
}

// markAvailable снова открывает объявление. Идемпотентна.
func markAvailable(ctx context.Context, tx pgx.Tx, listingID int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE listings SET available = true WHERE id = $1`,
		listingID,
	)
	if err != nil {
		return fmt.Errorf("mark listing %d available: %w", listingID, err)
	}
	return nil
}
