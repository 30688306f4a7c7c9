package types

// DeliveryOutcome classifies the result of a single delivery attempt. It is
// transient per attempt and drives the runner's retry policy.
type DeliveryOutcome int

const (
	// Success means the destination accepted the item
	Success DeliveryOutcome = iota
	// NetworkError covers connection failures, timeouts and transient
	// contention responses (write quota, sequence id rejections)
	NetworkError
	// ServerError covers 5xx-equivalent destination failures
	ServerError
	// UnauthorizedError means the session is invalid and the client must
	// re-register before retrying
	UnauthorizedError
	// ParamsError means the request itself is malformed; retrying cannot
	// succeed
	ParamsError
	// OtherError covers everything else; retried once at most
	OtherError
)

func (o DeliveryOutcome) String() string {
	switch o {
	case Success:
		return "success"
	case NetworkError:
		return "network_error"
	case ServerError:
		return "server_error"
	case UnauthorizedError:
		return "unauth_error"
	case ParamsError:
		return "params_error"
	default:
		return "other_error"
	}
}

// Retryable reports whether the outcome is worth another attempt at all
func (o DeliveryOutcome) Retryable() bool {
	switch o {
	case NetworkError, ServerError, UnauthorizedError, OtherError:
		return true
	default:
		return false
	}
}
