package core

import "fmt"

// ErrorCode is a stable, program-matchable error classification for the
// error kinds spec'd in the host's error handling design. KubeApiStatus is
// deliberately absent: a Kubernetes Status document on API error is not an
// error at the host boundary, it's a successful HTTPResponse body.
type ErrorCode string

const (
	// ErrorCodeConfig marks bad CLI args or malformed tenant config.
	// Fatal at startup.
	ErrorCodeConfig ErrorCode = "config"
	// ErrorCodeSandboxLoad marks a bytecode load or link failure for a
	// tenant. Fatal only for that tenant at cold-start.
	ErrorCodeSandboxLoad ErrorCode = "sandbox_load"
	// ErrorCodeKubeTransport marks an underlying network/transport
	// failure talking to the cluster.
	ErrorCodeKubeTransport ErrorCode = "kube_transport"
	// ErrorCodeUnknownKind marks a Discover() call for a kind with no
	// matching discovered API resource.
	ErrorCodeUnknownKind ErrorCode = "unknown_kind"
	// ErrorCodeGuestAbort marks a guest trap or panic during an entry
	// point. The current call fails; the tenant stays Loaded.
	ErrorCodeGuestAbort ErrorCode = "guest_abort"
	// ErrorCodeSnapshot marks a serialize or disk I/O failure during
	// swap-out. The tenant is restored to Loaded.
	ErrorCodeSnapshot ErrorCode = "snapshot"
	// ErrorCodeReload marks a deserialize or I/O failure during
	// wake-up. The slot is restored to Swapped.
	ErrorCodeReload ErrorCode = "reload"
)

// DomainError carries a stable ErrorCode alongside a human-readable
// message and an optional wrapped cause.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Is reports whether err is a DomainError with the given code, following
// wrapped causes.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if de, ok := err.(*DomainError); ok {
			return de.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
