// Package transport is the raw MQTT v5.0/v3.1.1 wire client underneath the
// session package: dialing, the CONNECT/CONNACK handshake, keepalive,
// per-packet-id tracking, topic aliasing and reconnection. It has no
// notion of a submission queue, ack ordering or a lifecycle state machine
// — those live one layer up, in session.Client, which owns exactly one
// *transport.Client and decides what a disconnect reason means for the
// caller.
//
// # Features
//
//   - Full MQTT v5.0 and v3.1.1 support
//   - (v5.0) User Properties & Packet Properties
//   - (v5.0) Topic Aliases (auto-managed)
//   - (v5.0) Request/Response pattern support
//   - (v5.0) Session & Message Expiry
//   - (v5.0) Shared Subscriptions
//   - (v5.0) Reason Codes & Enhanced Error Handling
//   - TLS/SSL encrypted connections
//   - Automatic reconnection with exponential backoff
//   - Context-based cancellation and timeouts
//
// # Dialing directly
//
// Most callers reach this package only through session.Connect. Dialing
// it directly is occasionally useful for probes or tooling that has no
// need for the queue/ack machinery:
//
//	client, err := transport.DialContext(ctx, "tcp://localhost:1883",
//	    transport.WithClientID("probe"),
//	    transport.WithProtocolVersion(transport.ProtocolV50))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
//
//	token := client.Publish("sensors/temperature", []byte("22.5"), transport.WithQoS(1))
//	err = token.Wait(context.Background())
//
//	client.Subscribe("sensors/+/temperature", transport.AtLeastOnce,
//	    func(c *transport.Client, msg transport.Message) {
//	        fmt.Printf("%s: %s\n", msg.Topic, string(msg.Payload))
//	    })
//
// # Connection options
//
// DialContext accepts the session package's derived options plus any of
// its own:
//
//   - WithProtocolVersion(v) - Set MQTT version (ProtocolV50 or ProtocolV311)
//   - WithClientID(id) - Set the MQTT client identifier
//   - WithCredentials(user, pass) - Set username and password
//   - WithKeepAlive(duration) - Set keepalive interval (default: 60s)
//   - WithCleanSession(bool) - Set clean start/session flag
//   - WithSessionExpiryInterval(secs) - Set session expiry (v5.0)
//   - WithAutoReconnect(bool) - Enable auto-reconnect (default: true)
//   - WithTLS(config) - Enable TLS encryption
//   - WithWill(topic, payload, qos, retained) - Set Last Will and Testament
//
// # TLS connections
//
//	client, err := transport.DialContext(ctx, "tls://broker:8883",
//	    transport.WithClientID("executor-1"),
//	    transport.WithTLS(&tls.Config{
//	        InsecureSkipVerify: false,
//	    }))
//
// Supported URL schemes: tcp://, mqtt://, tls://, ssl://, mqtts://
//
// # Quality of service
//
//   - QoS 0 (transport.AtMostOnce): fire and forget, used for telemetry samples
//   - QoS 1 (transport.AtLeastOnce): acknowledged, used for command requests/responses
//   - QoS 2 (transport.ExactlyOnce): assured delivery
//
//	client.Publish("widgets/create", payload, transport.WithQoS(transport.AtLeastOnce))
//
// # Wildcard subscriptions
//
//   - '+' matches a single level (e.g., "sensors/+/temperature")
//   - '#' matches multiple levels (e.g., "sensors/#")
//
// # MQTT v5.0 properties
//
// The Command Invoker and Command Executor in the protocol package use
// these to carry correlation ids, response topics and the reserved HLC
// and routing user properties:
//
//	client.Publish("widgets/create", payload,
//	    transport.WithResponseTopic("clients/invoker-1/widgets/create"),
//	    transport.WithCorrelationData(correlationBytes),
//	    transport.WithUserProperty("__ts", stamp.Encode()),
//	    transport.WithMessageExpiry(10))
//
// # Topic aliases
//
// Topic aliases (v5.0) reduce bandwidth by substituting a short numeric
// id for a repeated topic string once the server has acknowledged it.
//
//	client.Publish("very/long/topic/name/for/bandwidth/saving", data,
//	    transport.WithAlias())
//
// # Error handling
//
// Operations return a Token usable for both blocking and non-blocking
// error handling; MQTT v5.0 errors carry Reason Codes the session layer
// classifies as retryable or fatal (see IsRetryableConnectError).
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	if err := token.Wait(ctx); err != nil {
//	    if transport.IsReasonCode(err, transport.ReasonCodeQuotaExceeded) {
//	        log.Printf("server quota exceeded: %v", err)
//	    }
//	}
//
//	select {
//	case <-token.Done():
//	    if err := token.Error(); err != nil {
//	        log.Printf("failed: %v", err)
//	    }
//	case <-time.After(5 * time.Second):
//	    log.Println("timeout")
//	}
//
// The client reconnects automatically unless configured otherwise; what a
// reconnect means for queued work and in-flight acknowledgements is the
// session package's decision, not this one's.
package transport
