// Package internal contains the core implementation packages for ssrdev.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - compiler: watch-compile loop producing wasm bundles with go build
//   - watcher: file system monitoring with debouncing
//   - artifact: in-memory store the compiler writes bundles into
//   - loader: wazero-backed loading and per-request instantiation
//   - recompile: owner of the published renderer handle
//   - template: uncached template fetch and placeholder splice
//   - proxy: reverse proxy to the asset server
//   - server: HTTP routing, render handler and reload channel
//   - metrics: Prometheus collectors
//   - tracing: OpenTelemetry tracer provider for render spans
//   - config, logging, errors, validation, version: ambient support
//
// # Data Flow
//
// The watcher wakes the compiler, which writes each emitted bundle to the
// artifact store and reports a pass. The recompile manager loads the bundle,
// swaps the published handle and retires the previous renderer once its
// in-flight renders finish. The server reads the handle once per request,
// fetches the template concurrently with the render and streams the spliced
// page.
//
// # Security Considerations
//
//   - Config validates every value that reaches exec or an outbound request
//   - Compiler only runs the go tool with validated arguments
//   - Server checks websocket origins against the listen address
package internal
