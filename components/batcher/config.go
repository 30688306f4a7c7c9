package batcher

import "time"

func millis(n uint) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Config stores the config for a Batcher
type Config struct {
	// MaxBatchBytes closes a batch once its accumulated size reaches it
	MaxBatchBytes int
	// MaxBatchEvents closes a batch once its event count reaches it.
	// Zero disables the count threshold.
	MaxBatchEvents int
	// TimeoutMillis closes a batch once its age reaches it, so low-volume
	// keys still get bounded latency
	TimeoutMillis uint
	// SweepIntervalMillis is how often the age sweep runs
	SweepIntervalMillis uint
}
