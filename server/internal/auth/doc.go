// Package auth provides API key authentication for markbook-server.
//
// APIKeyInterceptor(mode, header, key) guards the gRPC report receiver;
// Middleware(mode, header, key, next) guards the REST API and WebSocket hub.
//
// When mode != "apikey" or key == "", all calls pass through (useful for local
// development with auth disabled). A wrong or absent key is rejected with
// codes.Unauthenticated or HTTP 401.
package auth
