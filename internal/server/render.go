package server

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/ssrdev/internal/errors"
	"github.com/conneroisu/ssrdev/internal/loader"
	"github.com/conneroisu/ssrdev/internal/logging"
	"github.com/conneroisu/ssrdev/internal/recompile"
	"github.com/conneroisu/ssrdev/internal/template"
)

// streamChunk is the read size used when copying rendered output.
const streamChunk = 32 << 10

// renderResult describes how a render request ended.
type renderResult struct {
	status int
	err    error
	// aborted is set when the failure happened after the response head was
	// written and the connection must be dropped.
	aborted bool
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := s.tracer.Start(r.Context(), "ssrdev.render",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		),
	)
	defer span.End()

	logger := s.logger.With(
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(ctx),
	)

	res := s.render(ctx, w, r.WithContext(ctx), logger)

	s.metrics.ObserveRender(res.status, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", res.status))
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}

	if res.aborted {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) render(ctx context.Context, w http.ResponseWriter, r *http.Request, logger logging.Logger) renderResult {
	h := s.manager.Current()
	if h == nil {
		err := errors.NewNotReadyError("no renderer has been published yet").WithPath(r.URL.Path)
		logger.Warn(ctx, err, "Render requested before first publish")
		w.Header().Set("Retry-After", "1")
		s.writeError(w, r, err)
		return renderResult{status: http.StatusServiceUnavailable, err: err}
	}

	if s.config.Render.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Render.Timeout)
		defer cancel()
	}
	renderCtx, cancelRender := context.WithCancel(ctx)
	defer cancelRender()

	req := loader.NewRenderRequest(r)

	var (
		page   template.Page
		body   io.ReadCloser
		stream *bufio.Reader
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = s.fetchPage(gctx)
		if err != nil {
			cancelRender()
		}
		return err
	})
	g.Go(func() error {
		var err error
		body, h, err = s.open(renderCtx, h, req)
		if err != nil {
			return errors.NewRenderError("starting renderer", err).
				WithPath(r.URL.Path).
				WithPass(h.Pass)
		}
		stream = bufio.NewReaderSize(body, streamChunk)
		// Wait for the first byte so a renderer that fails before producing
		// output is reported before the response head is written.
		if _, err := stream.Peek(1); err != nil && err != io.EOF {
			return errors.NewRenderError("renderer failed", err).
				WithPath(r.URL.Path).
				WithPass(h.Pass).
				WithContext("identity", h.Identity)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if body != nil {
			_ = body.Close()
		}
		logger.Error(ctx, err, "Render failed before response")
		s.writeError(w, r, err)
		return renderResult{status: errors.HTTPStatus(err), err: err}
	}
	defer body.Close()

	if page.Occurrences > 1 {
		logger.Warn(ctx, nil, "Template contains the placeholder more than once, only the first is replaced",
			"occurrences", page.Occurrences)
	}

	tail := page.Tail
	if s.config.Development.HotReload && s.config.Development.InjectClient {
		tail = InjectClient(tail, ReloadClientScript)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-SSR-Pass", strconv.FormatUint(h.Pass, 10))
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if _, err := io.WriteString(w, page.Head); err != nil {
		return renderResult{status: http.StatusOK, err: err, aborted: true}
	}
	_ = rc.Flush()

	n, err := copyFlushing(w, rc, stream)
	if err != nil {
		renderErr := errors.NewRenderError("renderer failed mid-stream", err).
			WithPath(r.URL.Path).
			WithPass(h.Pass).
			WithContext("identity", h.Identity).
			WithContext("bytes", n)
		logger.Error(ctx, renderErr, "Aborting response")
		return renderResult{status: http.StatusOK, err: renderErr, aborted: true}
	}

	if _, err := io.WriteString(w, tail); err != nil {
		return renderResult{status: http.StatusOK, err: err, aborted: true}
	}

	logger.Debug(ctx, "Rendered", "pass", h.Pass, "bytes", n)
	return renderResult{status: http.StatusOK}
}

// open starts a render on h. A renderer retired between reading the handle
// and starting the render is retried once against the current handle.
func (s *Server) open(ctx context.Context, h *recompile.Handle, req *loader.RenderRequest) (io.ReadCloser, *recompile.Handle, error) {
	body, err := h.Renderer.Render(ctx, req)
	if stderrors.Is(err, loader.ErrModuleClosed) {
		if next := s.manager.Current(); next != nil && next != h {
			h = next
			body, err = h.Renderer.Render(ctx, req)
		}
	}
	return body, h, err
}

func (s *Server) fetchPage(ctx context.Context) (template.Page, error) {
	ctx, span := s.tracer.Start(ctx, "ssrdev.template.fetch",
		trace.WithAttributes(attribute.String("url", s.fetcher.URL())),
	)
	defer span.End()

	text, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.metrics.TemplateFetchFailed()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return template.Page{}, err
	}
	page, err := template.Split(text, s.config.Assets.Placeholder)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return template.Page{}, err
	}
	return page, nil
}

// copyFlushing copies src to w, flushing after every chunk so the browser
// sees output as the renderer produces it.
func copyFlushing(w io.Writer, rc *http.ResponseController, src io.Reader) (int64, error) {
	buf := make([]byte, streamChunk)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			_ = rc.Flush()
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	title := http.StatusText(status)
	detail := err.Error()

	var devErr *errors.DevError
	if stderrors.As(err, &devErr) {
		switch devErr.Type {
		case errors.ErrorTypeNotReady:
			title = "Waiting for the first build"
			if last := s.manager.LastPass(); last != nil && len(last.Errors) > 0 {
				detail = errors.FormatErrors(last.Errors)
			}
		case errors.ErrorTypeFetch:
			title = "Template unavailable"
		case errors.ErrorTypeConfig:
			title = "Template misconfigured"
		case errors.ErrorTypeRender:
			title = "Render failed"
		}
	}

	writePage(w, r, status, errorPage(status, title, "The page could not be served.", detail))
}
