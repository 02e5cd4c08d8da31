package domain

import "fmt"

// EngineError is the unified error type for the receiver and the automaton.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is matches EngineErrors by code so wrapped sentinels compare equal.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == e.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Intake errors (-32010 to -32039) ----

var (
	ErrMissingMethod    = &EngineError{Code: -32010, Message: "proto carries no method id"}
	ErrMethodNotAllowed = &EngineError{Code: -32011, Message: "method id not in allow-list"}
	ErrMalformedBody    = &EngineError{Code: -32012, Message: "malformed request body"}
	ErrMissingOrigin    = &EngineError{Code: -32013, Message: "origin header missing"}
	ErrQueueFull        = &EngineError{Code: -32014, Message: "downstream queue is full"}
	ErrQueueClosed      = &EngineError{Code: -32015, Message: "downstream queue is closed"}
)

// ---- Proto decoding errors (-32040 to -32069) ----

var (
	ErrPayloadEncoding = &EngineError{Code: -32040, Message: "payload is not valid base64"}
	ErrProtoStructure  = &EngineError{Code: -32041, Message: "unexpected proto structure"}
)

// ---- Screen automaton errors (-32070 to -32099) ----

var (
	ErrNoForegroundApp = &EngineError{Code: -32070, Message: "foreground app unavailable"}
	ErrScreenshot      = &EngineError{Code: -32071, Message: "screenshot capture failed"}
	ErrScreenAnalysis  = &EngineError{Code: -32072, Message: "screenshot analysis failed"}
	ErrUIDump          = &EngineError{Code: -32073, Message: "ui automator dump unavailable"}
	ErrUITreeMalformed = &EngineError{Code: -32074, Message: "ui automator dump is malformed"}
	ErrNoHandler       = &EngineError{Code: -32075, Message: "no handler registered for screen type"}
	ErrDeviceCommand   = &EngineError{Code: -32076, Message: "device command failed"}
	ErrAnalyzer        = &EngineError{Code: -32077, Message: "screen analyzer request failed"}
)

// ---- Account / login errors (-32100 to -32129) ----

var (
	ErrAccountNotFound   = &EngineError{Code: -32100, Message: "account not found"}
	ErrNoAccountAssigned = &EngineError{Code: -32101, Message: "no account assigned to device"}
	ErrRateLimitExceeded = &EngineError{Code: -32103, Message: "login rate limit exceeded"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit      = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery     = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite     = &EngineError{Code: -32132, Message: "store write failed"}
	ErrDeviceNotFound = &EngineError{Code: -32134, Message: "device not found"}
	ErrConfigInvalid  = &EngineError{Code: -32136, Message: "invalid configuration"}
)
