// Package ws implements the WebSocket hub for markbook-server.
//
// Hub manages a set of connected clients and broadcasts a risk dashboard to
// all of them on a configurable interval (dashboard.interval, default 5s).
//
// New(store, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// dashboard immediately on connect, then streams updates on each tick.
// ?tenant=<id> limits a connection to one tenant.
//
// Message format sent to clients:
//
//	{
//	  "event": "dashboard",
//	  "data":  {
//	    "generated_at": "...",
//	    "totals":  {"ok": 3, "warning": 1, "critical": 1},
//	    "tenants": [{"tenant_id": "...", "students": 5, "risk_counts": {...}, "at_risk": ["s3"]}]
//	  }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/stream by the server behind the
// same API-key middleware as /api/; browsers pass the key as ?api_key=.
package ws
