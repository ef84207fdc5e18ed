package tbucket

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/Morditux/tbucket/store"
)

const (
	tsTableSchema = `create table if not exists ts_token_bucket (
		key text not null,
		time real not null
	)`
	tsIndexSchema = `create index if not exists ts_token_bucket_key_time on ts_token_bucket (key, time)`
)

// Mutator inspects the token timestamps currently recorded in a window
// and returns the timestamps that should exist instead. Every returned
// timestamp must fall within [queryTime-period, queryTime]; Mutate
// enforces this regardless of what the mutator itself checks.
type Mutator func(times []float64, queryTime float64) ([]float64, error)

// FillFunc guesses which new timestamps to record when Set needs more
// tokens consumed than are currently on record. It must return exactly n
// timestamps, each within the active window.
type FillFunc func(times []float64, queryTime float64, n int) []float64

// PruneFunc guesses which existing timestamps to discard when Set needs
// fewer tokens consumed than are currently on record. It must return
// exactly n timestamps, each present in times at least as many times as
// in its result.
type PruneFunc func(times []float64, queryTime float64, n int) []float64

// TrimFunc prunes stale rows for key after a record. The default policy
// deletes everything older than max(time)-period for that key, evaluated
// over the key's entire history (not just the current window) - a
// deliberate choice preserved from the reference implementation. If a
// recorded timestamp lies ahead of the current clock, rows still inside
// the current window can be trimmed.
type TrimFunc func(ctx context.Context, tx *sql.Tx, key string, period float64) error

// queryer is satisfied by both *sql.Tx and *store.DB, letting reads that
// don't need a transaction (TimeSeries.Peek) share code with reads that
// do (everything else).
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TimeSeries enforces "exactly rate events per sliding window of period
// seconds" by recording the timestamp of every consumed token, rather
// than collapsing state to a single counter. Its schema
// ("ts_token_bucket") holds one row per consumed token.
type TimeSeries struct {
	db     *store.DB
	key    string
	rate   int
	period float64
	trim   TrimFunc
	clock  func() time.Time
}

// NewTimeSeries opens (or creates) a TimeSeries bucket identified by
// (path, key). trimFn may be nil to use the default trim policy.
func NewTimeSeries(path, key string, cfg Config, trimFn TrimFunc) (*TimeSeries, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, newStoreError(err)
	}
	if err := db.EnsureSchema(context.Background(), tsTableSchema, tsIndexSchema); err != nil {
		db.Close()
		return nil, newStoreError(err)
	}
	if trimFn == nil {
		trimFn = defaultTrim
	}
	return &TimeSeries{
		db:     db,
		key:    key,
		rate:   int(cfg.Rate),
		period: cfg.Period,
		trim:   trimFn,
		clock:  time.Now,
	}, nil
}

// Close releases the bucket's connection to the store.
func (b *TimeSeries) Close() error {
	return b.db.Close()
}

func (b *TimeSeries) now() float64 {
	return float64(b.clock().UnixNano()) / 1e9
}

func defaultTrim(ctx context.Context, tx *sql.Tx, key string, period float64) error {
	var maxTime sql.NullFloat64
	row := tx.QueryRowContext(ctx, "select max(time) from ts_token_bucket where key = ?", key)
	if err := row.Scan(&maxTime); err != nil {
		return err
	}
	if !maxTime.Valid {
		return nil
	}
	_, err := tx.ExecContext(ctx, "delete from ts_token_bucket where key = ? and time < ?", key, maxTime.Float64-period)
	return err
}

func defaultFill(_ []float64, queryTime float64, n int) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = queryTime
	}
	return times
}

func defaultPrune(times []float64, _ float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	idx := rand.Perm(len(times))[:n]
	result := make([]float64, n)
	for i, p := range idx {
		result[i] = times[p]
	}
	return result
}

func peekRows(ctx context.Context, q queryer, key string, queryTime, period float64) ([]float64, error) {
	rows, err := q.QueryContext(ctx,
		"select time from ts_token_bucket where key = ? and time >= ? and time <= ?",
		key, queryTime-period, queryTime)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []float64
	for rows.Next() {
		var t float64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

func insertTimes(ctx context.Context, tx *sql.Tx, key string, times []float64) error {
	stmt, err := tx.PrepareContext(ctx, "insert into ts_token_bucket (key, time) values (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, t := range times {
		if _, err := stmt.ExecContext(ctx, key, t); err != nil {
			return err
		}
	}
	return nil
}

func deleteOne(ctx context.Context, tx *sql.Tx, key string, t float64) error {
	_, err := tx.ExecContext(ctx,
		"delete from ts_token_bucket where rowid = (select rowid from ts_token_bucket where key = ? and time = ? limit 1)",
		key, t)
	return err
}

// multisetDiff returns the elements present in newTimes more often than
// in oldTimes (toAdd) and the elements present in oldTimes more often
// than in newTimes (toDelete).
func multisetDiff(oldTimes, newTimes []float64) (toAdd, toDelete []float64) {
	counts := make(map[float64]int, len(oldTimes))
	for _, t := range oldTimes {
		counts[t]++
	}
	for _, t := range newTimes {
		counts[t]--
	}
	for t, c := range counts {
		switch {
		case c > 0:
			for i := 0; i < c; i++ {
				toDelete = append(toDelete, t)
			}
		case c < 0:
			for i := 0; i < -c; i++ {
				toAdd = append(toAdd, t)
			}
		}
	}
	return toAdd, toDelete
}

// subtractMultiset removes each element of remove from times, failing if
// remove is not a sub-multiset of times.
func subtractMultiset(times, remove []float64) ([]float64, bool) {
	counts := make(map[float64]int, len(times))
	for _, t := range times {
		counts[t]++
	}
	for _, r := range remove {
		if counts[r] <= 0 {
			return nil, false
		}
		counts[r]--
	}
	remaining := make([]float64, 0, len(times)-len(remove))
	for _, t := range times {
		if counts[t] > 0 {
			remaining = append(remaining, t)
			counts[t]--
		}
	}
	return remaining, true
}

// Peek returns the tokens available and the recorded timestamps in the
// window ending at queryTime (now, if nil). Unlike Classic/Scheduled,
// this never mutates state: it is a plain read, not wrapped in
// BEGIN IMMEDIATE.
func (b *TimeSeries) Peek(queryTime *float64) (tokens int, times []float64, qt float64, err error) {
	at := b.now()
	if queryTime != nil {
		at = *queryTime
	}
	times, err = peekRows(context.Background(), b.db, b.key, at, b.period)
	if err != nil {
		return 0, nil, 0, newStoreError(err)
	}
	return b.rate - len(times), times, at, nil
}

// Record inserts one row per timestamp given, then runs the trim policy.
func (b *TimeSeries) Record(times ...float64) error {
	if len(times) == 0 {
		return nil
	}
	ctx := context.Background()
	err := b.db.Transact(ctx, func(tx *sql.Tx) error {
		if err := insertTimes(ctx, tx, b.key, times); err != nil {
			return err
		}
		return b.trim(ctx, tx, b.key, b.period)
	})
	if err != nil {
		return newStoreError(err)
	}
	return nil
}

// Mutate reads the timestamps in the window ending at queryTime (now, if
// nil), passes them to mutator, and reconciles the store so exactly the
// returned timestamps remain. mutator runs inside the BEGIN IMMEDIATE
// transaction; it must not itself touch the store or sleep.
func (b *TimeSeries) Mutate(mutator Mutator, queryTime *float64) (tokens int, times []float64, qt float64, err error) {
	at := b.now()
	if queryTime != nil {
		at = *queryTime
	}

	ctx := context.Background()
	txErr := b.db.Transact(ctx, func(tx *sql.Tx) error {
		oldTimes, err := peekRows(ctx, tx, b.key, at, b.period)
		if err != nil {
			return err
		}
		newTimes, err := mutator(oldTimes, at)
		if err != nil {
			return err
		}
		for _, t := range newTimes {
			if t < at-b.period || t > at {
				return newContractError(ErrWindowViolation)
			}
		}

		toAdd, toDelete := multisetDiff(oldTimes, newTimes)
		if len(toAdd) > 0 {
			if err := insertTimes(ctx, tx, b.key, toAdd); err != nil {
				return err
			}
			if err := b.trim(ctx, tx, b.key, b.period); err != nil {
				return err
			}
		}
		for _, t := range toDelete {
			if err := deleteOne(ctx, tx, b.key, t); err != nil {
				return err
			}
		}

		times = newTimes
		tokens = b.rate - len(newTimes)
		return nil
	})
	if txErr != nil {
		var ce *ContractError
		if errors.As(txErr, &ce) {
			return 0, nil, 0, txErr
		}
		return 0, nil, 0, newStoreError(txErr)
	}
	return tokens, times, at, nil
}

// Set reconciles the window so exactly rate-n tokens are recorded as
// consumed, filling or pruning as needed. fill/prune may be nil to use
// the defaults (record at queryTime; prune uniformly at random).
func (b *TimeSeries) Set(n int, queryTime *float64, fill FillFunc, prune PruneFunc) (tokens int, times []float64, qt float64, err error) {
	if n < 0 || n > b.rate {
		return 0, nil, 0, newContractError(ErrInvalidSetAmount)
	}
	if fill == nil {
		fill = defaultFill
	}
	if prune == nil {
		prune = defaultPrune
	}

	mutator := func(times []float64, queryTime float64) ([]float64, error) {
		available := b.rate - len(times)
		switch {
		case available > n:
			numToAdd := available - n
			added := fill(times, queryTime, numToAdd)
			if len(added) != numToAdd {
				return nil, newContractError(ErrWrongLength)
			}
			result := append(append([]float64(nil), times...), added...)
			return result, nil
		case available < n:
			numToPrune := n - available
			toPrune := prune(times, queryTime, numToPrune)
			if len(toPrune) != numToPrune {
				return nil, newContractError(ErrWrongLength)
			}
			remaining, ok := subtractMultiset(times, toPrune)
			if !ok {
				return nil, newContractError(ErrNotASubset)
			}
			return remaining, nil
		default:
			return times, nil
		}
	}

	return b.Mutate(mutator, queryTime)
}

// TryConsume attempts to consume n tokens without blocking, succeeding
// only when the window has room for n more and the available count,
// before subtracting n, is greater than leave (tokens >= n && tokens > leave).
func (b *TimeSeries) TryConsume(n, leave int) (success bool, tokens int, times []float64, qt float64, err error) {
	if n <= 0 || n > b.rate {
		return false, 0, nil, 0, newContractError(ErrInvalidN)
	}

	at := b.now()
	ctx := context.Background()
	txErr := b.db.Transact(ctx, func(tx *sql.Tx) error {
		observed, err := peekRows(ctx, tx, b.key, at, b.period)
		if err != nil {
			return err
		}
		times = observed
		tokens = b.rate - len(observed)
		if tokens >= n && tokens > leave {
			newTimes := make([]float64, n)
			for i := range newTimes {
				newTimes[i] = at
			}
			if err := insertTimes(ctx, tx, b.key, newTimes); err != nil {
				return err
			}
			if err := b.trim(ctx, tx, b.key, b.period); err != nil {
				return err
			}
			times = append(times, newTimes...)
			tokens -= n
			success = true
		}
		return nil
	})
	if txErr != nil {
		return false, 0, nil, 0, newStoreError(txErr)
	}
	return success, tokens, times, at, nil
}

// Estimate returns the wall-clock time at which n tokens would be
// available, given the window ending at queryTime (now, if nil).
func (b *TimeSeries) Estimate(n int, queryTime *float64) (float64, error) {
	if n <= 0 || n > b.rate {
		return 0, newContractError(ErrInvalidN)
	}
	_, times, qt, err := b.Peek(queryTime)
	if err != nil {
		return 0, err
	}
	return b.estimate(times, qt, n), nil
}

func (b *TimeSeries) estimate(times []float64, queryTime float64, n int) float64 {
	offset := b.rate - n
	if offset >= len(times) {
		return queryTime
	}
	sorted := append([]float64(nil), times...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return sorted[offset] + b.period
}

// Consume blocks (via plain sleep, outside any transaction) until n
// tokens can be consumed, then consumes them.
func (b *TimeSeries) Consume(n, leave int) (tokens int, times []float64, qt float64, err error) {
	if n <= 0 || n > b.rate {
		return 0, nil, 0, newContractError(ErrInvalidN)
	}
	for {
		success, tk, ts, at, err := b.TryConsume(n, leave)
		if err != nil {
			return 0, nil, 0, err
		}
		if success {
			return tk, ts, at, nil
		}
		now := b.now()
		target := b.estimate(ts, at, n)
		if target > now {
			time.Sleep(time.Duration((target - now) * float64(time.Second)))
		}
	}
}
