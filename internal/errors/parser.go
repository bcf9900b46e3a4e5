package errors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorSeverity represents the severity of a diagnostic
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets diagnostics serialize severities by name.
func (s ErrorSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BuildErrorType represents different types of build errors
type BuildErrorType int

const (
	BuildErrorTypeUnknown BuildErrorType = iota
	BuildErrorTypeGoCompile
	BuildErrorTypeGoTool
	BuildErrorTypeVet
	BuildErrorTypeFileNotFound
	BuildErrorTypePermission
)

func (t BuildErrorType) String() string {
	switch t {
	case BuildErrorTypeGoCompile:
		return "Go Compile"
	case BuildErrorTypeGoTool:
		return "Go Tool"
	case BuildErrorTypeVet:
		return "Vet"
	case BuildErrorTypeFileNotFound:
		return "File Not Found"
	case BuildErrorTypePermission:
		return "Permission"
	default:
		return "Unknown"
	}
}

// MarshalText lets diagnostics serialize types by name.
func (t BuildErrorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParsedError is one diagnostic extracted from compiler output.
type ParsedError struct {
	Type     BuildErrorType `json:"type"`
	Severity ErrorSeverity  `json:"severity"`
	File     string         `json:"file,omitempty"`
	Line     int            `json:"line,omitempty"`
	Column   int            `json:"column,omitempty"`
	Message  string         `json:"message"`
	RawError string         `json:"raw_error"`
	Context  []string       `json:"context,omitempty"`
}

// Error makes a diagnostic usable as an error value.
func (pe *ParsedError) Error() string {
	if pe.File == "" {
		return pe.Message
	}
	if pe.Column > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", pe.File, pe.Line, pe.Column, pe.Message)
	}
	return fmt.Sprintf("%s:%d: %s", pe.File, pe.Line, pe.Message)
}

// ErrorParser parses go build and go vet output into structured diagnostics
type ErrorParser struct {
	patterns []errorPattern
}

type errorPattern struct {
	regex       *regexp.Regexp
	errorType   BuildErrorType
	parseFields func(matches []string) (file string, line int, column int, message string)
}

// NewErrorParser creates a new error parser
func NewErrorParser() *ErrorParser {
	return &ErrorParser{patterns: buildGoPatterns()}
}

// ParseError parses tool output, assigning severity to every diagnostic found.
// Package header lines ("# example.com/app") are skipped.
func (ep *ErrorParser) ParseError(output string, severity ErrorSeverity) []*ParsedError {
	var parsed []*ParsedError

	lines := strings.Split(output, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "# ") {
			continue
		}

		if pe := ep.tryParse(line); pe != nil {
			pe.Severity = severity
			pe.Context = contextLines(lines, i, 2)
			parsed = append(parsed, pe)
			continue
		}

		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
			parsed = append(parsed, &ParsedError{
				Type:     BuildErrorTypeUnknown,
				Severity: severity,
				Message:  line,
				RawError: line,
				Context:  contextLines(lines, i, 1),
			})
		}
	}

	return parsed
}

func (ep *ErrorParser) tryParse(line string) *ParsedError {
	for _, pattern := range ep.patterns {
		matches := pattern.regex.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		file, lineNum, column, message := pattern.parseFields(matches)
		return &ParsedError{
			Type:     pattern.errorType,
			File:     file,
			Line:     lineNum,
			Column:   column,
			Message:  message,
			RawError: line,
		}
	}
	return nil
}

func contextLines(lines []string, index int, radius int) []string {
	start := max(0, index-radius)
	end := min(len(lines), index+radius+1)

	var context []string
	for i := start; i < end; i++ {
		prefix := "  "
		if i == index {
			prefix = "→ "
		}
		context = append(context, prefix+lines[i])
	}
	return context
}

func buildGoPatterns() []errorPattern {
	return []errorPattern{
		{
			regex:     regexp.MustCompile(`^vet: (.+?):(\d+):(\d+): (.+)$`),
			errorType: BuildErrorTypeVet,
			parseFields: func(m []string) (string, int, int, string) {
				line, _ := strconv.Atoi(m[2])
				column, _ := strconv.Atoi(m[3])
				return m[1], line, column, m[4]
			},
		},
		{
			regex:     regexp.MustCompile(`^(.+?\.go):(\d+):(\d+): (.+)$`),
			errorType: BuildErrorTypeGoCompile,
			parseFields: func(m []string) (string, int, int, string) {
				line, _ := strconv.Atoi(m[2])
				column, _ := strconv.Atoi(m[3])
				return m[1], line, column, m[4]
			},
		},
		{
			regex:     regexp.MustCompile(`^(.+?\.go):(\d+): (.+)$`),
			errorType: BuildErrorTypeGoCompile,
			parseFields: func(m []string) (string, int, int, string) {
				line, _ := strconv.Atoi(m[2])
				return m[1], line, 0, m[3]
			},
		},
		{
			regex:     regexp.MustCompile(`^go: (.+)$`),
			errorType: BuildErrorTypeGoTool,
			parseFields: func(m []string) (string, int, int, string) {
				return "", 0, 0, m[1]
			},
		},
		{
			regex:     regexp.MustCompile(`^package (.+) is not in (?:GOROOT|std)`),
			errorType: BuildErrorTypeGoCompile,
			parseFields: func(m []string) (string, int, int, string) {
				return "", 0, 0, fmt.Sprintf("package %s not found", m[1])
			},
		},
		{
			regex:     regexp.MustCompile(`^permission denied: (.+)$`),
			errorType: BuildErrorTypePermission,
			parseFields: func(m []string) (string, int, int, string) {
				return m[1], 0, 0, "permission denied"
			},
		},
		{
			regex:     regexp.MustCompile(`^(?:stat|open) (.+): no such file or directory$`),
			errorType: BuildErrorTypeFileNotFound,
			parseFields: func(m []string) (string, int, int, string) {
				return m[1], 0, 0, "file not found"
			},
		},
	}
}

// FormatError formats a parsed error for terminal display
func (pe *ParsedError) FormatError() string {
	var builder strings.Builder

	fmt.Fprintf(&builder, "[%s] %s", strings.ToUpper(pe.Severity.String()), pe.Type)
	if pe.File != "" {
		fmt.Fprintf(&builder, " in %s", pe.File)
		if pe.Line > 0 {
			fmt.Fprintf(&builder, ":%d", pe.Line)
			if pe.Column > 0 {
				fmt.Fprintf(&builder, ":%d", pe.Column)
			}
		}
	}
	builder.WriteString("\n")
	fmt.Fprintf(&builder, "  %s\n", pe.Message)

	if len(pe.Context) > 0 {
		builder.WriteString("  Context:\n")
		for _, line := range pe.Context {
			fmt.Fprintf(&builder, "    %s\n", line)
		}
	}

	return builder.String()
}

// FormatErrors joins diagnostics into the plain-text block pushed to browsers.
func FormatErrors(diags []*ParsedError) string {
	var builder strings.Builder
	for i, d := range diags {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(d.FormatError())
	}
	return builder.String()
}
