// Package srt implements listener-mode SRT (Secure Reliable Transport)
// ingest: publishers connect, and each accepted connection is registered
// with the ingest registry and pumped into the application source.
package srt
