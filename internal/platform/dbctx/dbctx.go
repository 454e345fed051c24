package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries a request context plus the transaction the call should run
// in. A nil Tx means "use the repo's own connection": repos fall back to it
// so single-statement operations and transactional flows share one signature.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// New wraps a plain context with no transaction.
func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

// WithTx returns a copy of c pinned to tx.
func (c Context) WithTx(tx *gorm.DB) Context {
	c.Tx = tx
	return c
}
