package loader

import (
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// RenderRequest is the request data handed to a renderer instance.
type RenderRequest struct {
	Method     string
	URI        string
	Path       string
	Query      string
	Host       string
	RemoteAddr string
	Protocol   string
	Header     http.Header
	Body       io.Reader
}

// NewRenderRequest captures r for a render invocation.
func NewRenderRequest(r *http.Request) *RenderRequest {
	return &RenderRequest{
		Method:     r.Method,
		URI:        r.URL.RequestURI(),
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
		Protocol:   r.Proto,
		Header:     r.Header.Clone(),
		Body:       r.Body,
	}
}

// Environ returns the request as CGI-style environment variables, sorted by
// name.
func (r *RenderRequest) Environ() [][2]string {
	env := map[string]string{
		"GATEWAY_INTERFACE": "CGI/1.1",
		"REQUEST_METHOD":    r.Method,
		"REQUEST_URI":       r.URI,
		"PATH_INFO":         r.Path,
		"QUERY_STRING":      r.Query,
		"SERVER_PROTOCOL":   r.Protocol,
	}

	host, port := r.Host, ""
	if h, p, err := net.SplitHostPort(r.Host); err == nil {
		host, port = h, p
	}
	env["SERVER_NAME"] = host
	if port != "" {
		env["SERVER_PORT"] = port
	}
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		env["REMOTE_ADDR"] = h
	}

	for name, values := range r.Header {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		env[key] = strings.Join(values, ", ")
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		env["CONTENT_TYPE"] = ct
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		if _, err := strconv.ParseInt(cl, 10, 64); err == nil {
			env["CONTENT_LENGTH"] = cl
		}
	}

	out := make([][2]string, 0, len(env))
	for k, v := range env {
		out = append(out, [2]string{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
