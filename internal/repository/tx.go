package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clubhouse/internal/logger"
	"clubhouse/internal/ordering"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type pgBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type TxManager struct {
	pool    pgBeginner
	timeout time.Duration
}

func NewTxManager(pool pgBeginner, timeout time.Duration) *TxManager {
	return &TxManager{pool: pool, timeout: timeout}
}

func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return m.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// InReadTx — снимок только для чтения: дерево читается целиком из одного состояния.
func (m *TxManager) InReadTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return m.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (m *TxManager) run(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, r Repos) error) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return mapErr("begin tx", err)
	}
	// после Commit откат — no-op
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(ctx, NewRepos(tx)); err != nil {
		logger.WithCtx(ctx).Debug("транзакция откатывается", zap.Error(err))
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

// mapErr переводит ошибки pgx в таксономию движка.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ordering.ErrValidation, ordering.ErrScopeViolation, ordering.ErrCycleDetected,
		ordering.ErrNotFound, ordering.ErrConcurrentModification, ordering.ErrStorageFailure,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ordering.ErrNotFound, op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505", "23503":
			// сериализация, дедлок, гонка вставок или строка удалена параллельно
			return fmt.Errorf("%w: %s: %s", ordering.ErrConcurrentModification, op, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %s: %w", ordering.ErrStorageFailure, op, err)
}

func concurrent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ordering.ErrConcurrentModification, fmt.Sprintf(format, args...))
}
