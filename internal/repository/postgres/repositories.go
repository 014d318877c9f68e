package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
)

// NewRepositories creates a new set of repositories
func NewRepositories(db *sql.DB, logger *zap.Logger) *repository.Repositories {
	repos := newRepositories(db, logger)
	repos.Tx = &txRunner{db: db, logger: logger}
	return repos
}

func newRepositories(db dbtx, logger *zap.Logger) *repository.Repositories {
	return &repository.Repositories{
		Catalog:             NewCatalogRepository(db, logger),
		Order:               NewOrderRepository(db, logger),
		OrderItem:           NewOrderItemRepository(db, logger),
		DiscountCode:        NewDiscountCodeRepository(db, logger),
		OrderEvent:          NewOrderEventRepository(db, logger),
		CheckoutIdempotency: NewCheckoutIdempotencyRepository(db, logger),
		ReconciliationIssue: NewReconciliationIssueRepository(db, logger),
	}
}

type txRunner struct {
	db     *sql.DB
	logger *zap.Logger
}

// WithinTx runs fn in a single transaction. Nested calls reuse the outer transaction.
func (r *txRunner) WithinTx(ctx context.Context, fn func(repos *repository.Repositories) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
			err = stderrors.Join(err, rbErr)
		}
	}()

	repos := newRepositories(tx, r.logger)
	repos.Tx = nestedTx{repos: repos}

	if err = fn(repos); err != nil {
		return err
	}

	return tx.Commit()
}

type nestedTx struct {
	repos *repository.Repositories
}

func (n nestedTx) WithinTx(_ context.Context, fn func(repos *repository.Repositories) error) error {
	return fn(n.repos)
}
