package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRecordNotFound is returned when a lookup matches no row
var ErrRecordNotFound = errors.New("record not found")

// Option is a functional option shared by the repositories
type Option func(*base)

// WithQueryTimeout bounds every query issued by the repository
func WithQueryTimeout(d time.Duration) Option {
	return func(b *base) {
		b.timeout = d
	}
}

type base struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func newBase(db *pgxpool.Pool, opts []Option) base {
	b := base{db: db}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	return err
}

// orQuery turns the plain tsquery of text into a disjunction, so that a
// passage matching any of the terms is a candidate and ts_rank orders them.
const orQuery = `replace(plainto_tsquery('italian', $1)::text, ' & ', ' | ')::tsquery`
