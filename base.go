package tbucket

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/Morditux/tbucket/store"
)

const tbfSchema = `create table if not exists tbf (
	key text primary key,
	tokens real not null,
	last real not null
)`

// refillStrategy answers the two questions that distinguish Classic from
// Scheduled: given a last-known (tokens, last) observation and the current
// time, what are the tokens available now, and when will n tokens be
// available? Bucket schema, transactions and the consume/try-consume loop
// are shared; only this strategy differs between the two variants.
type refillStrategy interface {
	// refill computes the unclamped token count at now, given the last
	// known state. The caller clamps to [0, rate].
	refill(tokens, last, now, rate, period float64) float64

	// estimate returns the wall-clock time at which n tokens would be
	// available, given the last known state as of now.
	estimate(tokens, last, n, now, rate, period float64) float64
}

// bucketCore holds the state and operations shared by Classic and
// Scheduled: the "tbf" schema, transaction handling, and the
// peek/set/tryConsume/consume loop. It is not used directly; see Classic
// and Scheduled.
type bucketCore struct {
	db       *store.DB
	key      string
	rate     float64
	period   float64
	strategy refillStrategy
	clock    func() time.Time
}

func newBucketCore(path, key string, cfg Config, strategy refillStrategy) (*bucketCore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, newStoreError(err)
	}
	if err := db.EnsureSchema(context.Background(), tbfSchema); err != nil {
		db.Close()
		return nil, newStoreError(err)
	}
	return &bucketCore{
		db:       db,
		key:      key,
		rate:     cfg.Rate,
		period:   cfg.Period,
		strategy: strategy,
		clock:    time.Now,
	}, nil
}

// Close releases the bucket's connection to the store.
func (b *bucketCore) Close() error {
	return b.db.Close()
}

func (b *bucketCore) now() float64 {
	return float64(b.clock().UnixNano()) / 1e9
}

func clamp(tokens, rate float64) float64 {
	if tokens < 0 {
		return 0
	}
	if tokens > rate {
		return rate
	}
	return tokens
}

// peekRow reads the stored (tokens, last) for key, defaulting to a full
// bucket as of now when no row exists.
func peekRow(ctx context.Context, tx *sql.Tx, key string, rate, now float64) (tokens, last float64, err error) {
	row := tx.QueryRowContext(ctx, "select tokens, last from tbf where key = ?", key)
	err = row.Scan(&tokens, &last)
	if err == sql.ErrNoRows {
		return rate, now, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return tokens, last, nil
}

// setRow clamps tokens to [0, rate] and upserts the (key, tokens, ts) row.
func setRow(ctx context.Context, tx *sql.Tx, key string, tokens, rate, ts float64) (float64, error) {
	tokens = clamp(tokens, rate)
	_, err := tx.ExecContext(ctx,
		"insert or replace into tbf (key, tokens, last) values (?, ?, ?)",
		key, tokens, ts)
	if err != nil {
		return 0, err
	}
	return tokens, nil
}

// peekTx applies the strategy's refill rule and writes the result back,
// mirroring the reference behavior of writing back on every peek.
func (b *bucketCore) peekTx(ctx context.Context, tx *sql.Tx, now float64) (tokens, ts float64, err error) {
	tokens, last, err := peekRow(ctx, tx, b.key, b.rate, now)
	if err != nil {
		return 0, 0, err
	}
	refilled := b.strategy.refill(tokens, last, now, b.rate, b.period)
	tokens, err = setRow(ctx, tx, b.key, refilled, b.rate, now)
	if err != nil {
		return 0, 0, err
	}
	return tokens, now, nil
}

// Peek returns the current token count and the time at which it was
// computed, updating the stored state as a side effect (the reference
// implementation always writes back the refilled state, even on a
// read-only peek).
func (b *bucketCore) Peek() (tokens, ts float64, err error) {
	ctx := context.Background()
	err = b.db.Transact(ctx, func(tx *sql.Tx) error {
		var txErr error
		tokens, ts, txErr = b.peekTx(ctx, tx, b.now())
		return txErr
	})
	if err != nil {
		return 0, 0, newStoreError(err)
	}
	return tokens, ts, nil
}

// Set explicitly sets the token count, clamped to [0, rate]. If ts is nil
// the current time is used.
func (b *bucketCore) Set(tokens float64, ts *float64) (float64, float64, error) {
	at := b.now()
	if ts != nil {
		if math.IsNaN(*ts) || math.IsInf(*ts, 0) {
			return 0, 0, newContractError(ErrNonFiniteTimestamp)
		}
		at = *ts
	}

	var outTokens float64
	ctx := context.Background()
	err := b.db.Transact(ctx, func(tx *sql.Tx) error {
		var txErr error
		outTokens, txErr = setRow(ctx, tx, b.key, tokens, b.rate, at)
		return txErr
	})
	if err != nil {
		return 0, 0, newStoreError(err)
	}
	return outTokens, at, nil
}

// TryConsume attempts to consume n tokens without blocking. It succeeds
// only when at least n tokens are available and the available count,
// before subtracting n, is greater than leave (the predicate is
// deliberately asymmetric: tokens >= n && tokens > leave, not
// tokens-n >= leave).
func (b *bucketCore) TryConsume(n, leave float64) (success bool, tokens, ts float64, err error) {
	if n <= 0 {
		return false, 0, 0, newContractError(ErrInvalidN)
	}

	ctx := context.Background()
	err = b.db.Transact(ctx, func(tx *sql.Tx) error {
		now := b.now()
		var txErr error
		tokens, ts, txErr = b.peekTx(ctx, tx, now)
		if txErr != nil {
			return txErr
		}
		if tokens >= n && tokens > leave {
			tokens, txErr = setRow(ctx, tx, b.key, tokens-n, b.rate, ts)
			if txErr != nil {
				return txErr
			}
			success = true
		}
		return nil
	})
	if err != nil {
		return false, 0, 0, newStoreError(err)
	}
	return success, tokens, ts, nil
}

// Consume blocks (via plain sleep, outside any transaction) until n
// tokens can be consumed, then consumes them.
func (b *bucketCore) Consume(n, leave float64) (tokens, ts float64, err error) {
	if n <= 0 {
		return 0, 0, newContractError(ErrInvalidN)
	}
	for {
		success, tk, at, err := b.TryConsume(n, leave)
		if err != nil {
			return 0, 0, err
		}
		if success {
			return tk, at, nil
		}
		now := b.now()
		target := b.strategy.estimate(tk, at, n, now, b.rate, b.period)
		if target > now {
			time.Sleep(time.Duration((target - now) * float64(time.Second)))
		}
	}
}
