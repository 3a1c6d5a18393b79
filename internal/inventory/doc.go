// Package inventory persists the last known Lightify lights and groups in
// SQLite.
//
// The bridge records a snapshot after every refresh so the API can answer
// inventory queries while the gateway is unreachable. Lights are upserted by
// address; groups are replaced wholesale, mirroring how the gateway reports
// them.
//
// Usage:
//
//	repo := inventory.NewRepository(db.DB)
//	bridge, err := lightify.NewBridge(lightify.BridgeOptions{
//	    Snapshots: repo,
//	    ...
//	})
package inventory
