package tbucket

// Scheduled is a token bucket that resets to a full rate tokens at fixed
// wall-clock boundaries (every period seconds since the Unix epoch, with
// no configurable offset) instead of refilling continuously.
//
// It shares its schema, transaction handling, and Peek/Set/TryConsume/
// Consume with Classic; only the refill and estimate rules differ, via
// the refillStrategy passed to the shared bucketCore.
type Scheduled struct {
	*bucketCore
}

// NewScheduled opens (or creates) a Scheduled bucket identified by
// (path, key), resetting to rate tokens every period seconds.
func NewScheduled(path, key string, cfg Config) (*Scheduled, error) {
	core, err := newBucketCore(path, key, cfg, scheduledStrategy{})
	if err != nil {
		return nil, err
	}
	return &Scheduled{bucketCore: core}, nil
}
