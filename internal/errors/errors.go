package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// KeyMustBeUnique indicates two markers share one key
	KeyMustBeUnique ErrorCode = "KEY_MUST_BE_UNIQUE"
	// OnlyOneArg indicates more than one positional argument on a marker
	OnlyOneArg ErrorCode = "ONLY_ONE_ARG"
	// KeyOnlyOnce indicates the key was given both positionally and by keyword
	KeyOnlyOnce ErrorCode = "KEY_CAN_ONLY_BE_SPECIFIED_ONCE"
	// KeyMustBeSpecified indicates a marker without a key
	KeyMustBeSpecified ErrorCode = "KEY_MUST_BE_SPECIFIED"
	// KeyMustBeString indicates a key that is not a string literal
	KeyMustBeString ErrorCode = "KEY_MUST_BE_A_STRING"
	// StaticMode indicates incomplete markers while running static-only
	StaticMode ErrorCode = "STATIC_MODE"
	// SyntaxError indicates a source file that does not parse
	SyntaxError ErrorCode = "SYNTAX_ERROR"
	// TargetNotFound indicates dynamic resolution could not reach a declaration
	TargetNotFound ErrorCode = "TARGET_NOT_FOUND"
	// DynamicLoadFailed indicates a module could not be imported for resolution
	DynamicLoadFailed ErrorCode = "DYNAMIC_LOAD_FAILED"
	// RepositoryUnavailable indicates git or the repository cannot be used
	RepositoryUnavailable ErrorCode = "REPOSITORY_UNAVAILABLE"
	// ConfigInvalid indicates invalid configuration
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// invalidTraceabilityCodes are the codes of misused markers.
var invalidTraceabilityCodes = map[ErrorCode]bool{
	KeyMustBeUnique:    true,
	OnlyOneArg:         true,
	KeyOnlyOnce:        true,
	KeyMustBeSpecified: true,
	KeyMustBeString:    true,
	StaticMode:         true,
}

// Messages holds the user-facing summary for each marker misuse.
var Messages = map[ErrorCode]string{
	KeyMustBeUnique:    "Key must be unique",
	OnlyOneArg:         "Traceability decorator must have only one arg",
	KeyOnlyOnce:        "Key can only be specified once in a single decorator.",
	KeyMustBeSpecified: "Key must be specified",
	KeyMustBeString:    "Key must be a string",
	StaticMode:         "Static mode requires all data resolvable without execution",
}

// Explanations adds the longer help text shown with a misuse.
var Explanations = map[ErrorCode]string{
	KeyMustBeUnique: "The key for the traceability decorator must be unique. " +
		"History mining looks declarations up by key.",
	OnlyOneArg: "The traceability decorator must have only one positional arg (the key). " +
		"Pass everything else as keyword arguments.",
	KeyOnlyOnce: "The key can only be specified once, either as an arg or as a kwarg named 'key'.",
	KeyMustBeSpecified: "The key must be specified, either as an arg or as a kwarg named 'key'.",
	KeyMustBeString:    "The key must be a string literal so it can be read without running code.",
	StaticMode: "Some metadata can only be computed by running code. " +
		"Use --mode static-plus-dynamic or --mode allow-raw, or make the values literal.",
}

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditSource suggests changing the annotated source
	EditSource FixActionType = "edit-source"
	// InstallTool suggests installing a tool
	InstallTool FixActionType = "install-tool"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	Tool        string        `json:"tool,omitempty"`
}

// TraceError is an error with a stable code, message and suggestions
type TraceError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// NewTraceError creates a new TraceError
func NewTraceError(code ErrorCode, message string, cause error, suggestedFixes []FixAction) *TraceError {
	if suggestedFixes == nil {
		suggestedFixes = GetSuggestedFixes(code)
	}
	return &TraceError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: suggestedFixes,
	}
}

// NewInvalidTraceability creates an InvalidTraceabilityError for a misuse
// code. The additional info is appended to the standard message.
func NewInvalidTraceability(code ErrorCode, additionalInfo string) *TraceError {
	msg := Messages[code]
	if msg == "" {
		msg = string(code)
	}
	if additionalInfo != "" {
		msg += " " + additionalInfo
	}
	return NewTraceError(code, msg, nil, nil)
}

// Error implements the error interface
func (e *TraceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *TraceError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *TraceError) WithDetails(details interface{}) *TraceError {
	e.Details = details
	return e
}

// Explain returns the long-form help for the error code, if any.
func (e *TraceError) Explain() string {
	return strings.TrimSpace(Explanations[e.Code])
}

// IsInvalidTraceability reports whether err is a marker misuse.
func IsInvalidTraceability(err error) bool {
	var te *TraceError
	if !stderrors.As(err, &te) {
		return false
	}
	return invalidTraceabilityCodes[te.Code]
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var te *TraceError
	return stderrors.As(err, &te) && te.Code == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	StaticMode: {
		{
			Type:        RunCommand,
			Command:     "pytrace --mode static-plus-dynamic",
			Safe:        false,
			Description: "Resolve computed metadata by importing the module",
		},
		{
			Type:        EditSource,
			Description: "Replace computed metadata with literals",
		},
	},
	KeyMustBeUnique: {
		{
			Type:        RunCommand,
			Command:     "pytrace --output-format key-only",
			Safe:        true,
			Description: "List all keys to find the duplicate",
		},
	},
	RepositoryUnavailable: {
		{
			Type:        RunCommand,
			Command:     "git status",
			Safe:        true,
			Description: "Verify you're in a git repository",
		},
		{
			Type:        InstallTool,
			Tool:        "git",
			Description: "Install git and make sure it is on PATH",
		},
	},
	DynamicLoadFailed: {
		{
			Type:        InstallTool,
			Tool:        "python3",
			Description: "Point dynamic.python at an interpreter that can import the project",
		},
		{
			Type:        RunCommand,
			Command:     "pytrace --mode allow-raw",
			Safe:        true,
			Description: "Keep unresolved metadata as raw source instead of importing",
		},
	},
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "pytrace config show",
			Safe:        true,
			Description: "Inspect the effective configuration",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
