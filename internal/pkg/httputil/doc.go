// Package httputil provides shared HTTP response/request utilities for
// the webhook intake handlers (internal/webhookintake).
//
// Every handler should use these helpers instead of writing raw
// http.ResponseWriter calls, so the four provider endpoints return a
// consistent JSON envelope and log through internal/pkg/logger rather
// than the standard log package.
package httputil
