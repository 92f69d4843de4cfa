// Package mqtt is the MQTT 3.1.1 protocol engine used by simplepub.
//
// The engine owns two fixed-capacity byte arenas (send and receive) and
// a net.Conn-like transport. Requests such as CONNECT and PUBLISH are
// encoded straight into the send arena; nothing touches the wire until
// Sync is called. Each Sync call performs one round of I/O:
//
//  1. Egress: flush as much of the send arena as the transport accepts
//  2. Ingress: read what is available into the receive arena, decode
//     every complete frame and react to it (CONNACK, PUBACK, PUBREC,
//     PUBCOMP, PINGRESP, inbound PUBLISH)
//  3. Timers: keep-alive pings, CONNACK deadline, QoS 1/2 retransmission
//
// Frame encoding and decoding is delegated to the packets package of
// github.com/eclipse/paho.mqtt.golang.
//
// # Error State
//
// The engine carries a single error state. It starts at KindOK and the
// first failure wins: after that every request and every Sync returns
// the stored error. A failed engine must be discarded, there is no
// reset or reconnect.
//
// # Thread Safety
//
// Engine is NOT safe for concurrent use. Callers that drive Sync from a
// background goroutine must serialise all calls with their own lock
// (see internal/publisher.Session).
//
// # Usage
//
//	eng, err := mqtt.NewEngine(conn, mqtt.EngineConfig{SendCapacity: 2048, RecvCapacity: 1024}, nil)
//	if err != nil {
//	    return err
//	}
//	if err := eng.Connect(mqtt.ConnectOptions{ClientID: "sensor-01", KeepAlive: 400 * time.Second}); err != nil {
//	    return err
//	}
//	if _, err := eng.Publish("sensors/temp", []byte("23.5"), 1, false); err != nil {
//	    return err
//	}
//	for eng.Pending() > 0 {
//	    if err := eng.Sync(); err != nil {
//	        return err
//	    }
//	}
package mqtt
