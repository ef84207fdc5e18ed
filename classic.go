package tbucket

// Classic is a continuously-refilling token bucket: tokens accrue at a
// steady rate/period up to a ceiling of rate, and are consumed
// immediately on a successful TryConsume/Consume.
//
// State is persisted as a single (tokens, last-update) row per key in the
// "tbf" table, shared with Scheduled.
type Classic struct {
	*bucketCore
}

// NewClassic opens (or creates) a Classic bucket identified by (path, key)
// with the given rate/period envelope.
func NewClassic(path, key string, cfg Config) (*Classic, error) {
	core, err := newBucketCore(path, key, cfg, classicStrategy{})
	if err != nil {
		return nil, err
	}
	return &Classic{bucketCore: core}, nil
}
