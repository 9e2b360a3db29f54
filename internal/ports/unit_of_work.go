package ports

import "context"

// Tx is an opaque transaction handle. The persistence adapter decides the
// concrete type.
type Tx interface{}

// UnitOfWork runs fn inside one transaction: a returned error rolls back,
// nil commits. Repositories called with the ctx passed to fn join the tx.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

func WithTxContext(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFromContext(ctx context.Context) Tx {
	return ctx.Value(txKey{})
}
