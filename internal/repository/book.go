package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bookswap-system/internal/model"
)

// GetBookByWorkKey возвращает закэшированную карточку книги по ключу работы
// внешнего каталога, либо nil, если книга ещё не сохранялась.
func (r *PostgresRepository) GetBookByWorkKey(ctx context.Context, workKey string) (*model.Book, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, title, author, isbn, ol_work_key, ol_edition_key, cover_image_url
		 FROM books WHERE ol_work_key = $1`,
		workKey,
	)

	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.OLWorkKey, &b.OLEditionKey, &b.CoverImageURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyErr(fmt.Errorf("get book: %w", err))
	}

	return &b, nil
}

// SaveBook сохраняет карточку книги. При одновременной вставке той же работы
// двумя запросами выигрывает первая, вторая получает уже сохранённую строку.
func (r *PostgresRepository) SaveBook(ctx context.Context, b model.Book) (*model.Book, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classifyErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO books (title, author, isbn, ol_work_key, ol_edition_key, cover_image_url)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (ol_work_key) DO NOTHING`,
		b.Title, b.Author, b.ISBN, b.OLWorkKey, b.OLEditionKey, b.CoverImageURL,
	)
	if err != nil {
		return nil, classifyErr(fmt.Errorf("insert book: %w", err))
	}

	var stored model.Book
	err = tx.QueryRow(ctx,
		`SELECT id, title, author, isbn, ol_work_key, ol_edition_key, cover_image_url
		 FROM books WHERE ol_work_key = $1`,
		b.OLWorkKey,
	).Scan(&stored.ID, &stored.Title, &stored.Author, &stored.ISBN,
		&stored.OLWorkKey, &stored.OLEditionKey, &stored.CoverImageURL)
	if err != nil {
		return nil, classifyErr(fmt.Errorf("select stored book: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyErr(fmt.Errorf("commit tx: %w", err))
	}

	return &stored, nil
}

// AddToWishlist добавляет книгу в список желаний пользователя. Повторное
// добавление не является ошибкой.
func (r *PostgresRepository) AddToWishlist(ctx context.Context, userID, bookID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wishlists (user_id, book_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, book_id) DO NOTHING`,
		userID, bookID,
	)
	if err != nil {
		return classifyErr(fmt.Errorf("insert wishlist entry: %w", err))
	}
	return nil
}

// GetWishlist возвращает книги из списка желаний пользователя.
func (r *PostgresRepository) GetWishlist(ctx context.Context, userID int64) ([]model.Book, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT b.id, b.title, b.author, b.isbn, b.ol_work_key, b.ol_edition_key, b.cover_image_url
		 FROM wishlists w
		 JOIN books b ON b.id = w.book_id
		 WHERE w.user_id = $1
		 ORDER BY w.added_at DESC`,
		userID,
	)
	if err != nil {
		return nil, classifyErr(fmt.Errorf("select wishlist: %w", err))
	}
	defer rows.Close()

	var res []model.Book
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.OLWorkKey, &b.OLEditionKey, &b.CoverImageURL); err != nil {
			return nil, fmt.Errorf("scan wishlist book: %w", err)
		}
		res = append(res, b)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyErr(fmt.Errorf("rows error: %w", err))
	}

	return res, nil
}
