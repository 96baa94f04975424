// Package streaminghttp is the HTTP surface of the gateway. It mounts the
// MCP streamable HTTP transport behind the authentication gate, alongside
// health and metrics endpoints.
//
// Construction
//
//	h := streaminghttp.New(
//	    gate,   // *auth.Gate bound to this site's tenant
//	    server, // *mcp.Server with tools registered
//	    streaminghttp.WithGatherer(registry),
//	    streaminghttp.WithAllowedOrigins(cfg.AllowedOrigin),
//	)
//
// # Routes
//
//   - GET /healthz reports liveness and is never authenticated.
//   - GET /metrics serves the Prometheus registry.
//   - The MCP path (DefaultMCPPath unless overridden) requires X-GD-JWT and
//     X-GD-SITE-ID. Rejected requests get 401 with {"error":"unauthorized"}.
//     POST bodies must be application/json or the request gets 415.
//
// # Sessions
//
// The MCP transport runs stateless with JSON responses. Each request is
// authenticated independently and the principal is carried on the request
// context into tool handlers (see auth.PrincipalFromContext). No session
// store is needed, so any replica can serve any request.
//
// # Client addresses
//
// The logged remote address is the TCP peer. X-Forwarded-For and X-Real-IP
// are honored only with WithTrustedProxy.
//
// # Request IDs
//
// Every response carries X-Request-ID. A caller-supplied value is echoed
// when it parses as a UUID; otherwise a fresh one is generated. The ID is
// attached to every log record emitted while serving the request.
package streaminghttp
