package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/bookswap-system/internal/trade"
)

// Операции леджера выполняются только внутри транзакции координатора: счёт
// никогда не изменяется вне перехода обмена или начисления бонуса за
// размещение объявления.

// debit списывает amount баллов со счёта accountID. Авторитетная проверка
// неотрицательности баланса — условие в самом UPDATE: предварительная
// проверка по снимку могла устареть до захвата блокировки.
func debit(ctx context.Context, tx pgx.Tx, accountID, amount int64) error {
	if amount <= 0 {
		return trade.ErrInvalidAmount
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE users SET points = points - $2 WHERE id = $1 AND points >= $2`,
		accountID, amount,
	)
	if err != nil {
		return fmt.Errorf("debit account %d: %w", accountID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return trade.ErrInsufficientPoints
	}
	return nil
}

// credit начисляет amount баллов на счёт accountID.
func credit(ctx context.Context, tx pgx.Tx, accountID, amount int64) error {
	if amount <= 0 {
		return trade.ErrInvalidAmount
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE users SET points = points + $2 WHERE id = $1`,
		accountID, amount,
	)
	if err != nil {
		return fmt.Errorf("credit account %d: %w", accountID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("credit account %d: %w", accountID, ErrUserNotFound)
	}
	return nil
}
