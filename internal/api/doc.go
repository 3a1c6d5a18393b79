// Package api provides the HTTP REST API and WebSocket state stream for the
// Lightify bridge.
//
// It exposes the bridge's cached lights and groups, on-demand refreshes,
// luminary commands and the persisted snapshot inventory to local tools and
// user interfaces.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
