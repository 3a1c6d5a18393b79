package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint writes one point stamped with the current time.
//
// The write is non-blocking; points are batched and sent asynchronously,
// and failures are reported through the SetOnError callback. Points written
// after Close are dropped.
//
// Parameters:
//   - measurement: The measurement name (e.g., "lightify_light")
//   - tags: Key-value pairs for indexing (low cardinality: address, name)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("lightify_light",
//	    map[string]string{"address": "0102030405060708", "name": "Desk"},
//	    map[string]interface{}{"on": true, "luminance": 80})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
