package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5/middleware"
)

const pageStyle = `body{font-family:ui-monospace,SFMono-Regular,Menlo,monospace;margin:2rem;color:#1f2328;background:#fff}` +
	`h1{font-size:1.25rem;color:#cf222e}pre{background:#f6f8fa;padding:1rem;overflow:auto;white-space:pre-wrap}` +
	`footer{margin-top:2rem;color:#656d76;font-size:.8rem}`

// errorPage renders a minimal HTML error page. detail is shown verbatim in a
// preformatted block when set.
func errorPage(status int, title, message, detail string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		requestID := middleware.GetReqID(ctx)

		if _, err := fmt.Fprintf(w,
			"<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>%d %s</title><style>%s</style></head><body>",
			status, templ.EscapeString(title), pageStyle,
		); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "<h1>%d %s</h1><p>%s</p>",
			status, templ.EscapeString(title), templ.EscapeString(message),
		); err != nil {
			return err
		}
		if detail != "" {
			if _, err := fmt.Fprintf(w, "<pre>%s</pre>", templ.EscapeString(detail)); err != nil {
				return err
			}
		}
		if requestID != "" {
			if _, err := fmt.Fprintf(w, "<footer>ssrdev &middot; request %s</footer>", templ.EscapeString(requestID)); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</body></html>")
		return err
	})
}

// writePage writes c as a complete response with the given status.
func writePage(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = c.Render(r.Context(), w)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
