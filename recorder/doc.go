// Package recorder persists streamed trades to PostgreSQL.
//
// Events flow from a stream subscription callback into a growable
// in-memory buffer, get transformed into rows, and are written in
// batches with pgx. Duplicate trades are dropped on conflict so a
// reconnect replay never double-counts.
package recorder
