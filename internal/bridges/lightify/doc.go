// Package lightify implements a client and Gray Logic bridge for the Osram
// Lightify gateway.
//
// The gateway speaks a little-endian binary protocol over TCP port 4000.
// Every request is one length-prefixed frame and is answered by exactly one
// reply frame. This package builds those frames, decodes the replies and keeps
// a local model of the lights and groups the gateway reports.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   TCP    ┌──────────────┐
//	│   Gray Logic    │   MQTT   │ Lightify Bridge │  :4000   │   Lightify   │
//	│      Core       │◄────────►│   (this pkg)    │◄────────►│   gateway    │
//	└─────────────────┘          └─────────────────┘          └──────────────┘
//
// # Layers
//
//   - Reader and Writer encode little-endian integers and fixed-width text
//   - FrameBuilder assigns sequence numbers and builds global and targeted frames
//   - Transport moves whole frames over the stream
//   - DecodeGroupList, DecodeGroupInfo, DecodeAllLightStatus and
//     DecodeLightStatus parse replies at fixed offsets
//   - Store holds lights (by address) and groups (by name)
//   - Light and Group implement Luminary, the common command surface
//   - Connection ties these together behind one request/reply lock
//   - Bridge and HealthReporter expose a Connection over MQTT
//
// Example:
//
//	conn, err := lightify.Connect(ctx, "192.168.1.50", lightify.TransportConfig{})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	if _, err := conn.UpdateAllLightStatus(ctx); err != nil {
//	    return err
//	}
//	lum, err := conn.Luminary("Desk")
//	if err != nil {
//	    return err
//	}
//	return lum.SetLuminance(ctx, 128, 10)
//
// # Sessions
//
// A Connection never reconnects. Any I/O failure closes it and later calls
// return ErrClosed. The Bridge does not replace a lost session either: its
// health turns degraded, polling stops, and a new Connection needs a restart.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
// Requests on one Connection are serialised, never pipelined.
package lightify
