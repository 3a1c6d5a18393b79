// Package influxdb provides InfluxDB connectivity for the Lightify bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched point writes and health monitoring. The bridge writes
// one "lightify_light" point per observed light state change, giving a
// history of on/off, luminance, colour temperature and colour per light.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) {
//	    logger.Error("InfluxDB write error", "error", err)
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes never block the caller.
package influxdb
