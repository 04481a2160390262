// Package hooks implements the extensible hook dispatch engine: the closed
// vocabulary of hook types, the execution context passed to handlers, the
// handler protocol, the lifecycle observer bus, and the dispatcher that ties
// them together.
package hooks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// HookType names a point in the host's lifecycle where handlers may run.
// The closed set below renders in lower-snake-case; CustomHookType builds an
// open-ended value for host-specific extension points.
type HookType string

const (
	ServerStartup     HookType = "server_startup"
	ServerShutdown    HookType = "server_shutdown"
	ServerInitialized HookType = "server_initialized"

	RequestReceived  HookType = "request_received"
	RequestProcessed HookType = "request_processed"
	ResponseSent     HookType = "response_sent"

	ToolPreExecution  HookType = "tool_pre_execution"
	ToolPostExecution HookType = "tool_post_execution"
	ToolRegistered    HookType = "tool_registered"
	ToolRemoved       HookType = "tool_removed"

	ScriptPreExecution  HookType = "script_pre_execution"
	ScriptPostExecution HookType = "script_post_execution"
	ScriptError         HookType = "script_error"

	RemoteServerConnected    HookType = "remote_server_connected"
	RemoteServerDisconnected HookType = "remote_server_disconnected"
	RemoteServerError        HookType = "remote_server_error"

	SecurityCheck HookType = "security_check"
	AccessDenied  HookType = "access_denied"

	customPrefix = "custom:"
)

// CustomHookType builds an open-ended hook type. An empty name is permitted
// and yields the type "custom:".
func CustomHookType(name string) HookType {
	return HookType(customPrefix + name)
}

// IsCustom reports whether the type falls outside the closed built-in set.
func (h HookType) IsCustom() bool {
	return len(h) >= len(customPrefix) && string(h[:len(customPrefix)]) == customPrefix
}

// String renders the hook type in lower-snake-case, matching the enum name
// for built-ins and "custom:<name>" for extension points.
func (h HookType) String() string {
	return string(h)
}

// ParseHookType parses s into a HookType, accepting any built-in's
// lower-snake-case name or a "custom:<name>" value, and reporting a
// HookTypeParseError for anything else. It is the inverse of String: for
// every built-in or custom t, ParseHookType(t.String()) == t.
func ParseHookType(s string) (HookType, error) {
	if len(s) >= len(customPrefix) && s[:len(customPrefix)] == customPrefix {
		return HookType(s), nil
	}
	for _, t := range AllBuiltinHookTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", &HookTypeParseError{Value: s}
}

// AllBuiltinHookTypes enumerates the closed, non-custom set.
func AllBuiltinHookTypes() []HookType {
	return []HookType{
		ServerStartup, ServerShutdown, ServerInitialized,
		RequestReceived, RequestProcessed, ResponseSent,
		ToolPreExecution, ToolPostExecution, ToolRegistered, ToolRemoved,
		ScriptPreExecution, ScriptPostExecution, ScriptError,
		RemoteServerConnected, RemoteServerDisconnected, RemoteServerError,
		SecurityCheck, AccessDenied,
	}
}

// Description returns a short human-readable summary, used by operator
// listings; unrecognised and custom types return an empty string.
func (h HookType) Description() string {
	switch h {
	case ServerStartup:
		return "Server is starting up"
	case ServerShutdown:
		return "Server is shutting down"
	case ServerInitialized:
		return "Server has completed initialization"
	case RequestReceived:
		return "A request has been received"
	case RequestProcessed:
		return "A request has been processed"
	case ResponseSent:
		return "A response has been sent"
	case ToolPreExecution:
		return "Before tool execution"
	case ToolPostExecution:
		return "After tool execution"
	case ToolRegistered:
		return "A tool has been registered"
	case ToolRemoved:
		return "A tool has been removed"
	case ScriptPreExecution:
		return "Before script execution"
	case ScriptPostExecution:
		return "After script execution"
	case ScriptError:
		return "A script raised an error"
	case RemoteServerConnected:
		return "A remote server connected"
	case RemoteServerDisconnected:
		return "A remote server disconnected"
	case RemoteServerError:
		return "A remote server reported an error"
	case SecurityCheck:
		return "A security check is being performed"
	case AccessDenied:
		return "Access was denied"
	default:
		return ""
	}
}

// HookPriority orders handlers within a hook type; lower values run first.
type HookPriority uint16

const (
	PriorityHighest HookPriority = 0
	PriorityHigh    HookPriority = 100
	PriorityNormal  HookPriority = 500
	PriorityLow     HookPriority = 900
	PriorityLowest  HookPriority = 1000
)

// HookPayload is the immutable record passed to a handler for one dispatch.
// A new payload is built per handler invocation reflecting the current data
// state as earlier handlers may have replaced it.
type HookPayload struct {
	HookType    HookType
	Timestamp   time.Time
	ExecutionID string
	Data        json.RawMessage
	Metadata    map[string]json.RawMessage
}

// NewHookPayload builds a payload with a fresh execution ID and the current
// wall-clock timestamp.
func NewHookPayload(hookType HookType, data json.RawMessage) HookPayload {
	return HookPayload{
		HookType:    hookType,
		Timestamp:   time.Now(),
		ExecutionID: uuid.NewString(),
		Data:        data,
		Metadata:    make(map[string]json.RawMessage),
	}
}

// WithMetadata returns a copy of the payload with the given metadata key set.
func (p HookPayload) WithMetadata(key string, value json.RawMessage) HookPayload {
	next := make(map[string]json.RawMessage, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		next[k] = v
	}
	next[key] = value
	p.Metadata = next
	return p
}

// GetData unmarshals the payload's data into T.
func GetData[T any](p HookPayload) (T, error) {
	var out T
	if len(p.Data) == 0 {
		return out, nil
	}
	err := json.Unmarshal(p.Data, &out)
	return out, err
}

// ExecutionResultKind tags the variant held by an ExecutionResult.
type ExecutionResultKind int

const (
	ResultContinue ExecutionResultKind = iota
	ResultStop
	ResultReplace
	ResultRetry
	ResultError
)

// ExecutionResult is the sum type a handler returns to tell the dispatcher
// how to proceed: continue to the next handler, stop the chain, replace the
// in-flight data, ask for a retry (currently treated as Continue), or fail.
type ExecutionResult struct {
	Kind ExecutionResultKind

	// Stop: optional replacement data returned to the caller.
	// Replace: replacement data passed to the next handler.
	Data json.RawMessage

	// Retry.
	RetryDelay       time.Duration
	RetryMaxAttempts uint32

	// Error.
	ErrorMessage string
	ErrorDetails json.RawMessage
}

// Continue lets the chain proceed unmodified.
func Continue() ExecutionResult { return ExecutionResult{Kind: ResultContinue} }

// Stop halts the chain, optionally replacing the final data.
func Stop(data json.RawMessage) ExecutionResult {
	return ExecutionResult{Kind: ResultStop, Data: data}
}

// Replace swaps the in-flight data and continues the chain.
func Replace(data json.RawMessage) ExecutionResult {
	return ExecutionResult{Kind: ResultReplace, Data: data}
}

// Retry requests a retry; the dispatcher currently treats this as Continue.
func Retry(delay time.Duration, maxAttempts uint32) ExecutionResult {
	return ExecutionResult{Kind: ResultRetry, RetryDelay: delay, RetryMaxAttempts: maxAttempts}
}

// ErrorResult escalates to a HandlerExecutionFailedError, aborting the chain.
func ErrorResult(message string, details json.RawMessage) ExecutionResult {
	return ExecutionResult{Kind: ResultError, ErrorMessage: message, ErrorDetails: details}
}

// RateLimit bounds how often a single handler may run: at most MaxCalls
// within the trailing Window, evaluated as a sliding window of call
// timestamps.
type RateLimit struct {
	MaxCalls uint32
	Window   time.Duration
}

// HookStats accumulates per-handler execution counters. Duration fields are
// stored in nanoseconds internally; callers read milliseconds via the
// accessor methods below.
type HookStats struct {
	TotalExecutions      uint64
	SuccessfulExecutions uint64
	FailedExecutions     uint64
	averageDurationNs    float64
	MaxDurationNs        int64
	LastExecution        time.Time
}

// AverageDurationMs returns the cumulative mean duration in milliseconds.
func (s *HookStats) AverageDurationMs() float64 {
	return s.averageDurationNs / float64(time.Millisecond)
}

// MaxDurationMs returns the maximum observed duration in milliseconds.
func (s *HookStats) MaxDurationMs() float64 {
	return float64(s.MaxDurationNs) / float64(time.Millisecond)
}

// RecordSuccess folds a successful execution's duration into the stats.
func (s *HookStats) RecordSuccess(d time.Duration) {
	s.TotalExecutions++
	s.SuccessfulExecutions++
	s.updateDuration(d)
}

// RecordFailure folds a failed execution's duration into the stats.
func (s *HookStats) RecordFailure(d time.Duration) {
	s.TotalExecutions++
	s.FailedExecutions++
	s.updateDuration(d)
}

func (s *HookStats) updateDuration(d time.Duration) {
	n := float64(s.TotalExecutions)
	s.averageDurationNs = (s.averageDurationNs*(n-1) + float64(d)) / n
	if int64(d) > s.MaxDurationNs {
		s.MaxDurationNs = int64(d)
	}
	s.LastExecution = time.Now()
}

// ExecutionOutcome tags a recorded history entry's result.
type ExecutionOutcome string

const (
	OutcomeSuccess ExecutionOutcome = "success"
	OutcomeError   ExecutionOutcome = "error"
	OutcomeTimeout ExecutionOutcome = "timeout"
)

// ExecutionHistory is one entry in the dispatcher's bounded execution ring.
type ExecutionHistory struct {
	Timestamp   time.Time
	HookType    HookType
	Handler     string
	Duration    time.Duration
	Outcome     ExecutionOutcome
}
