// Package stream implements the MEXC spot websocket session: one
// transport connection multiplexing many logical topic subscriptions,
// with automatic reconnect, listen-key keep-alive for private streams,
// and deterministic teardown.
//
// A Session owns its connection and subscription registry exclusively.
// Callbacks are invoked from a single dispatch goroutine in arrival
// order, so they must be fast: hand the event to a channel or buffer
// and return.
//
// The intended usage is scoped acquisition:
//
//	session, err := stream.NewSession(cfg, nil, logger)
//	if err != nil { ... }
//	if err := session.Connect(ctx); err != nil { ... }
//	defer session.Close()
package stream
