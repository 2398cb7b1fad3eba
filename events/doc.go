// Package events provides typed views over the JSON payloads the
// exchange pushes on public market data streams. Payloads arrive as
// raw bytes on a stream subscription; the Parse functions here decode
// them into structs with prices kept as strings to avoid float
// rounding.
package events
