// Package api hosts the HTTP server, middleware, and handlers of the capture
// service. Notable routes:
//   - GET /capture and /logo return image bytes or a {"message": ...} body.
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /results and /latest show the most recent capture when
//     debug.show_results is enabled.
package api
