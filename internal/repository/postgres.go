// Package repository содержит реализацию доступа к данным в PostgreSQL и
// координатор транзакций: каждый переход обмена выполняется в одной
// транзакции под блокировкой строки объявления.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/bookswap-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим именем.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrListingNotFound возвращается, если объявление не найдено.
	ErrListingNotFound = errors.New("listing not found")
	// ErrTradeNotFound возвращается, если заявка на обмен не найдена.
	ErrTradeNotFound = errors.New("trade not found")
	// ErrAlreadyUnavailable возвращается охраной доступности, если объявление
	// уже занято: защита инварианта «не более одного открытого обмена» от гонок.
	ErrAlreadyUnavailable = errors.New("listing already unavailable")
	// ErrContended возвращается, если строка объявления заблокирована другим
	// переходом. Операцию можно идемпотентно повторить.
	ErrContended = errors.New("listing is locked by another operation")
	// ErrStorageUnavailable возвращается при недоступности хранилища.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при сбоях сериализации и дедлоках. Прочие ошибки,
// включая ErrContended, возвращаются сразу: решение о повторе за вызывающим.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
				return retry.RetryableError(err)
			}
		}
		return err
	})
}

// classifyErr переводит инфраструктурные ошибки pg в ошибки репозитория.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.LockNotAvailable {
		return fmt.Errorf("%w: %s", ErrContended, pgErr.Message)
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %s", ErrStorageUnavailable, err.Error())
	}

	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя со стартовым начислением баллов.
func (r *PostgresRepository) CreateUser(ctx context.Context, username string, passwordHash []byte, signupGrant int64) (int64, error) {
	if signupGrant < 0 {
		signupGrant = 0
	}

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, points) VALUES ($1, $2, $3) RETURNING id`,
		username, passwordHash, signupGrant,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return 0, classifyErr(fmt.Errorf("create user: %w", err))
	}
	return id, nil
}

// GetUserByUsername возвращает пользователя по имени.
func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, points, created_at FROM users WHERE username = $1`,
		username,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Points, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, classifyErr(fmt.Errorf("get user: %w", err))
	}

	return &u, nil
}

// GetBalance возвращает доступный баланс пользователя и сумму его баллов в
// эскроу, в сотых долях балла. Эскроу не хранится отдельно, а выводится из
// открытых заявок: цена объявления по каждой заявке пользователя в статусе
// открытого множества.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, int64, error) {
	var current int64
	err := r.pool.QueryRow(ctx,
		`SELECT points FROM users WHERE id = $1`,
		userID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, classifyErr(fmt.Errorf("select points: %w", err))
	}

	var escrowed int64
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(l.price), 0)
		 FROM trades t
		 JOIN listings l ON l.id = t.listing_id
		 WHERE t.requester_id = $1 AND t.status = ANY($2)`,
		userID, openStatuses(),
	).Scan(&escrowed)
	if err != nil {
		return 0, 0, classifyErr(fmt.Errorf("sum escrowed: %w", err))
	}

	return current, escrowed, nil
}

func openStatuses() []string {
	return []string{string(model.TradeStatusRequested), string(model.TradeStatusAccepted)}
}
