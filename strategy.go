package tbucket

import "math"

// classicStrategy refills continuously: tokens accrue linearly at
// rate/period and never exceed rate.
type classicStrategy struct{}

func (classicStrategy) refill(tokens, last, now, rate, period float64) float64 {
	elapsed := now - last
	return tokens + elapsed*rate/period
}

func (classicStrategy) estimate(tokens, last, n, now, rate, period float64) float64 {
	return last + (n-tokens)*period/rate
}

// scheduledStrategy resets to full at each wall-clock boundary (every
// period seconds since the epoch, no offset) and otherwise holds tokens
// steady between boundaries.
type scheduledStrategy struct{}

func lastRefillBoundary(when, period float64) float64 {
	return when - math.Mod(when, period)
}

func nextRefillBoundary(when, period float64) float64 {
	return lastRefillBoundary(when, period) + period
}

func (scheduledStrategy) refill(tokens, last, now, rate, period float64) float64 {
	if lastRefillBoundary(now, period) > last {
		return rate
	}
	return tokens
}

func (scheduledStrategy) estimate(tokens, last, n, now, rate, period float64) float64 {
	if tokens >= n {
		return now
	}
	return nextRefillBoundary(now, period)
}
