package rbflusher

import (
	"errors"

	"github.com/redBorder/rbflusher/components/limiter"
)

// Config stores the immutable configuration snapshot for a pipeline
// instance. Reconfiguration means starting a new pipeline from a new
// snapshot and retiring the old one; a running instance is never mutated.
type Config struct {
	// Process queue (incoming EventGroups)
	ProcessQueueCapacity      int `yaml:"process_queue_capacity"`
	ProcessQueueExtraCapacity int `yaml:"process_queue_extra_capacity"`

	// Sender queue (ready-to-send Items)
	SenderQueueCapacity      int `yaml:"sender_queue_capacity"`
	SenderQueueExtraCapacity int `yaml:"sender_queue_extra_capacity"`

	// Batching thresholds
	MaxBatchBytes       int  `yaml:"max_batch_bytes"`
	MaxBatchEvents      int  `yaml:"max_batch_events"`
	BatchTimeoutMillis  uint `yaml:"batch_timeout_millis"`
	SweepIntervalMillis uint `yaml:"sweep_interval_millis"`

	// Wire format
	Encoding    string `yaml:"encoding"`
	Compression string `yaml:"compression"`

	// Delivery
	SinkConcurrency     int  `yaml:"sink_concurrency"`
	MaxRetries          int  `yaml:"max_retries"`
	BackoffMillis       uint `yaml:"backoff_millis"`
	MaxBackoffMillis    uint `yaml:"max_backoff_millis"`
	RegistrationRetries int  `yaml:"registration_retries"`

	// Rate limiting per scope
	RateLimits limiter.Config `yaml:"rate_limits"`

	// ShutdownGraceMillis bounds the sender queue drain at Close
	ShutdownGraceMillis uint `yaml:"shutdown_grace_millis"`
}

// withDefaults fills the optional knobs
func (c Config) withDefaults() Config {
	if c.ProcessQueueCapacity == 0 {
		c.ProcessQueueCapacity = 1000
	}
	if c.SenderQueueCapacity == 0 {
		c.SenderQueueCapacity = 100
	}
	if c.MaxBatchBytes == 0 {
		c.MaxBatchBytes = 512 * 1024
	}
	if c.BatchTimeoutMillis == 0 {
		c.BatchTimeoutMillis = 3000
	}
	if c.Encoding == "" {
		c.Encoding = "json"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.SinkConcurrency == 0 {
		c.SinkConcurrency = 4
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMillis == 0 {
		c.BackoffMillis = 500
	}
	if c.RegistrationRetries == 0 {
		c.RegistrationRetries = 3
	}
	if c.ShutdownGraceMillis == 0 {
		c.ShutdownGraceMillis = 5000
	}
	return c
}

// Validate rejects malformed thresholds. Called once at pipeline start;
// configuration problems never surface at runtime.
func (c Config) Validate() error {
	if c.ProcessQueueCapacity < 0 || c.ProcessQueueExtraCapacity < 0 ||
		c.SenderQueueCapacity < 0 || c.SenderQueueExtraCapacity < 0 {
		return errors.New("queue capacities must not be negative")
	}
	if c.MaxBatchBytes < 0 || c.MaxBatchEvents < 0 {
		return errors.New("batch thresholds must not be negative")
	}
	if c.SinkConcurrency < 0 {
		return errors.New("sink concurrency must not be negative")
	}
	if c.MaxRetries < 0 || c.RegistrationRetries < 0 {
		return errors.New("retry limits must not be negative")
	}
	return nil
}
