package limiter

// Config stores the per-scope quotas for a Limiter. Each value is the number
// of send permits granted per refill interval; zero means unlimited for that
// scope.
type Config struct {
	Global   uint64 `yaml:"global"`
	Region   uint64 `yaml:"region"`
	Project  uint64 `yaml:"project"`
	Logstore uint64 `yaml:"logstore"`

	// RefillIntervalMillis is the fixed refill schedule. Defaults to one
	// second.
	RefillIntervalMillis uint `yaml:"refill_interval_millis"`
}
