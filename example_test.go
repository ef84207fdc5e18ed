package tbucket_test

import (
	"fmt"
	"path/filepath"

	"github.com/Morditux/tbucket"
)

// Example demonstrates a Classic bucket protecting calls to a shared API:
// 100 requests refill continuously over a minute.
func Example_classic() {
	dir, err := newExampleDir()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	bucket, err := tbucket.NewClassic(filepath.Join(dir, "ratelimits.db"), "upstream-api", tbucket.Config{
		Rate:   100,
		Period: 60,
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer bucket.Close()

	success, _, _, err := bucket.TryConsume(1, 0)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("allowed:", success)
	// Output: allowed: true
}

// Example demonstrates a Scheduled bucket for a quota that resets at
// fixed wall-clock boundaries, such as a vendor's "1000 calls per hour"
// allowance that resets on the hour rather than 1/3600th-of-an-hour at a
// time.
func Example_scheduled() {
	dir, err := newExampleDir()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	bucket, err := tbucket.NewScheduled(filepath.Join(dir, "ratelimits.db"), "vendor-quota", tbucket.Config{
		Rate:   1000,
		Period: 3600,
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer bucket.Close()

	tokens, _, err := bucket.Peek()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("tokens:", tokens)
	// Output: tokens: 1000
}

// Example demonstrates a TimeSeries bucket enforcing an exact cap ("no
// more than 5 emails to this address in any rolling 24h window") by
// recording one timestamp per event instead of a single counter.
func Example_timeSeries() {
	dir, err := newExampleDir()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	bucket, err := tbucket.NewTimeSeries(filepath.Join(dir, "ratelimits.db"), "user@example.com", tbucket.Config{
		Rate:   5,
		Period: 86400,
	}, nil)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer bucket.Close()

	success, tokens, _, _, err := bucket.TryConsume(1, 0)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("allowed:", success, "remaining:", tokens)
	// Output: allowed: true remaining: 4
}
