// Package codec translates between subscription topics and the MEXC
// spot v3 wire protocol.
//
// The codec is a pure collaborator: it never touches the transport.
// Decode returns a tagged Frame so the dispatch loop can switch
// exhaustively on Kind instead of probing message shapes.
package codec
