// Package rest is the minimal REST client the streaming session needs:
// listen-key lifecycle for private streams and a server-time probe.
// The full spot REST surface is intentionally out of scope.
package rest
