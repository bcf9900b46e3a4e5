// Package errors defines the error taxonomy of the dev server and the parser
// that turns compiler output into structured diagnostics.
//
// Every failure in the recompilation pipeline is a *DevError carrying a Type
// that decides how it is surfaced: compile and load errors are reported and
// the previous renderer stays current, fetch/proxy/render errors fail only
// the request in flight, not-ready errors become 503 responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeCompile  ErrorType = "compile"
	ErrorTypeLoad     ErrorType = "load"
	ErrorTypeFetch    ErrorType = "fetch"
	ErrorTypeProxy    ErrorType = "proxy"
	ErrorTypeNotReady ErrorType = "not_ready"
	ErrorTypeRender   ErrorType = "render"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Error codes used by the sentinels below.
const (
	CodeCompileFailed  = "ERR_COMPILE"
	CodeLoadFailed     = "ERR_LOAD"
	CodeFetchFailed    = "ERR_FETCH"
	CodeProxyFailed    = "ERR_PROXY"
	CodeNotReady       = "ERR_NOT_READY"
	CodeRenderFailed   = "ERR_RENDER"
	CodeInvalidConfig  = "ERR_CONFIG"
	CodeMissingMarker  = "ERR_PLACEHOLDER_MISSING"
	CodeInternalFailed = "ERR_INTERNAL"
)

// Sentinels for errors.Is. Matching compares Type and Code only.
var (
	ErrCompile  = &DevError{Type: ErrorTypeCompile, Code: CodeCompileFailed}
	ErrLoad     = &DevError{Type: ErrorTypeLoad, Code: CodeLoadFailed}
	ErrFetch    = &DevError{Type: ErrorTypeFetch, Code: CodeFetchFailed}
	ErrProxy    = &DevError{Type: ErrorTypeProxy, Code: CodeProxyFailed}
	ErrNotReady = &DevError{Type: ErrorTypeNotReady, Code: CodeNotReady}
	ErrRender   = &DevError{Type: ErrorTypeRender, Code: CodeRenderFailed}
)

// DevError is a structured error type with context.
type DevError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}

	// Pass is the compile pass the error belongs to, zero when unrelated.
	Pass uint64
	// Path is the request path the error belongs to, empty when unrelated.
	Path string
}

// Error implements the error interface.
func (e *DevError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Pass > 0 {
		parts = append(parts, fmt.Sprintf("pass:%d", e.Pass))
	}
	if e.Path != "" {
		parts = append(parts, "path:"+e.Path)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *DevError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *DevError) Is(target error) bool {
	t, ok := target.(*DevError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context information to the error.
func (e *DevError) WithContext(key string, value interface{}) *DevError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPass ties the error to a compile pass.
func (e *DevError) WithPass(pass uint64) *DevError {
	e.Pass = pass
	return e
}

// WithPath ties the error to a request path.
func (e *DevError) WithPath(path string) *DevError {
	e.Path = path
	return e
}

// NewCompileError reports a compile pass that produced errors.
func NewCompileError(message string, cause error) *DevError {
	return &DevError{Type: ErrorTypeCompile, Code: CodeCompileFailed, Message: message, Cause: cause}
}

// NewLoadError reports a freshly compiled artifact that could not be evaluated.
func NewLoadError(message string, cause error) *DevError {
	return &DevError{Type: ErrorTypeLoad, Code: CodeLoadFailed, Message: message, Cause: cause}
}

// NewFetchError reports a template that could not be retrieved.
func NewFetchError(message string, cause error) *DevError {
	return &DevError{Type: ErrorTypeFetch, Code: CodeFetchFailed, Message: message, Cause: cause}
}

// NewProxyError reports an asset request the asset server did not answer.
func NewProxyError(message string, cause error) *DevError {
	return &DevError{Type: ErrorTypeProxy, Code: CodeProxyFailed, Message: message, Cause: cause}
}

// NewNotReadyError reports a render request that arrived before the first publish.
func NewNotReadyError(message string) *DevError {
	return &DevError{Type: ErrorTypeNotReady, Code: CodeNotReady, Message: message}
}

// NewRenderError reports a renderer invocation that failed.
func NewRenderError(message string, cause error) *DevError {
	return &DevError{Type: ErrorTypeRender, Code: CodeRenderFailed, Message: message, Cause: cause}
}

// NewConfigError reports invalid configuration, including a template without
// its placeholder marker.
func NewConfigError(code, message string, cause error) *DevError {
	if code == "" {
		code = CodeInvalidConfig
	}
	return &DevError{Type: ErrorTypeConfig, Code: code, Message: message, Cause: cause}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *DevError {
	return &DevError{Type: ErrorTypeInternal, Code: CodeInternalFailed, Message: message, Cause: cause}
}

// TypeOf returns the type of the first DevError in err's chain.
func TypeOf(err error) ErrorType {
	var de *DevError
	if errors.As(err, &de) {
		return de.Type
	}
	return ErrorTypeInternal
}

// HTTPStatus maps an error to the status code a client should see.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeNotReady:
		return http.StatusServiceUnavailable
	case ErrorTypeProxy:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
