package runner

import "time"

// Config stores the config for a Runner
type Config struct {
	// Concurrency is the number of send workers (sink concurrency)
	Concurrency int
	// MaxRetries bounds retries for network/server class failures
	MaxRetries int
	// BackoffMillis is the base retry delay, doubled per retry
	BackoffMillis uint
	// MaxBackoffMillis caps the retry delay. Zero means no cap.
	MaxBackoffMillis uint
	// RegistrationRetries bounds session registration attempts before the
	// destination is marked failed
	RegistrationRetries int
	// PollIntervalMillis is the idle wait between queue scans
	PollIntervalMillis uint
}

// backoff returns the delay before the nth retry (1-based), exponential with
// a cap
func (c Config) backoff(retry int) time.Duration {
	d := time.Duration(c.BackoffMillis) * time.Millisecond
	for i := 1; i < retry; i++ {
		d *= 2
		if c.MaxBackoffMillis > 0 && d >= time.Duration(c.MaxBackoffMillis)*time.Millisecond {
			return time.Duration(c.MaxBackoffMillis) * time.Millisecond
		}
	}
	if c.MaxBackoffMillis > 0 && d > time.Duration(c.MaxBackoffMillis)*time.Millisecond {
		d = time.Duration(c.MaxBackoffMillis) * time.Millisecond
	}
	return d
}
