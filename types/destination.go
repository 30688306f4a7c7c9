package types

// Destination is the delivery endpoint consumed by the flusher runner. The
// concrete wire protocol is destination-specific; the runner only sees the
// classified outcome.
type Destination interface {
	Send(item *Item) DeliveryOutcome
}

// RegistrationResult is the outcome of a session registration attempt
type RegistrationResult int

const (
	// RegistrationSuccess means the destination session is established
	RegistrationSuccess RegistrationResult = iota
	// RegistrationError means the attempt failed and may be retried up to
	// the configured bound
	RegistrationError
)

// Registrable is implemented by destinations that require a session (write
// quota, sequence-id protocols). The runner drives Register through its
// registration state machine before the first send and after an
// UnauthorizedError.
type Registrable interface {
	Register() RegistrationResult
}
