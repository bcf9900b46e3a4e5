package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevErrorMessage(t *testing.T) {
	err := NewLoadError("evaluate artifact", errors.New("unreachable executed")).WithPass(4)

	assert.Equal(t, "[ERR_LOAD] pass:4 evaluate artifact: unreachable executed", err.Error())
}

func TestDevErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"fetch matches sentinel", NewFetchError("template", nil), ErrFetch, true},
		{"wrapped fetch matches", fmt.Errorf("request: %w", NewFetchError("template", nil)), ErrFetch, true},
		{"not ready matches", NewNotReadyError("no renderer"), ErrNotReady, true},
		{"load is not fetch", NewLoadError("x", nil), ErrFetch, false},
		{"plain error", errors.New("x"), ErrProxy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDevErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewProxyError("asset server", cause)

	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewNotReadyError("x"), http.StatusServiceUnavailable},
		{NewProxyError("x", nil), http.StatusBadGateway},
		{NewFetchError("x", nil), http.StatusInternalServerError},
		{NewConfigError(CodeMissingMarker, "x", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWithContext(t *testing.T) {
	err := NewCompileError("build", nil).WithContext("errors", 3).WithPath("/")

	require.NotNil(t, err.Context)
	assert.Equal(t, 3, err.Context["errors"])
	assert.Equal(t, "/", err.Path)
}

func TestParseGoBuildOutput(t *testing.T) {
	parser := NewErrorParser()
	output := "# example.com/app\n./main.go:12:5: undefined: render\n./page.go:3: syntax error\n"

	diags := parser.ParseError(output, ErrorSeverityError)

	require.Len(t, diags, 2)
	assert.Equal(t, "./main.go", diags[0].File)
	assert.Equal(t, 12, diags[0].Line)
	assert.Equal(t, 5, diags[0].Column)
	assert.Equal(t, "undefined: render", diags[0].Message)
	assert.Equal(t, BuildErrorTypeGoCompile, diags[0].Type)
	assert.Equal(t, ErrorSeverityError, diags[0].Severity)

	assert.Equal(t, "./page.go", diags[1].File)
	assert.Equal(t, 3, diags[1].Line)
	assert.Equal(t, 0, diags[1].Column)
}

func TestParseVetOutputAsWarnings(t *testing.T) {
	parser := NewErrorParser()
	output := "vet: ./main.go:8:2: fmt.Printf format %d has arg s of wrong type string"

	diags := parser.ParseError(output, ErrorSeverityWarning)

	require.Len(t, diags, 1)
	assert.Equal(t, BuildErrorTypeVet, diags[0].Type)
	assert.Equal(t, ErrorSeverityWarning, diags[0].Severity)
	assert.Equal(t, "./main.go:8:2: fmt.Printf format %d has arg s of wrong type string", diags[0].Error())
}

func TestParseGoToolAndUnknown(t *testing.T) {
	parser := NewErrorParser()
	output := "go: cannot find main module\nsomething failed badly\nharmless line"

	diags := parser.ParseError(output, ErrorSeverityError)

	require.Len(t, diags, 2)
	assert.Equal(t, BuildErrorTypeGoTool, diags[0].Type)
	assert.Equal(t, "cannot find main module", diags[0].Message)
	assert.Equal(t, BuildErrorTypeUnknown, diags[1].Type)
}

func TestFormatErrors(t *testing.T) {
	diags := []*ParsedError{
		{Type: BuildErrorTypeGoCompile, Severity: ErrorSeverityError, File: "main.go", Line: 1, Column: 2, Message: "bad"},
	}

	out := FormatErrors(diags)
	assert.Contains(t, out, "[ERROR] Go Compile in main.go:1:2")
	assert.Contains(t, out, "bad")
}
