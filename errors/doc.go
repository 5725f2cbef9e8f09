// Package errors provides standardized error handling patterns for pipeline components.
//
// # Overview
//
// The errors package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable), and
// Fatal (unrecoverable, stop processing).
//
// On top of classification it defines the stable wire codes that the gateway
// sends to clients in error frames (rate_limit_exceeded, pattern_not_ready,
// insufficient_events, ...). Wire codes are a public contract and never change.
//
// # Usage
//
//	if err := store.Append(sessionID, ev); err != nil {
//	    return errors.WrapTransient(err, "gateway", "handleEvent", "append event")
//	}
//
// Analysis status values (insufficient_events, invalid_time_span,
// pattern_not_ready) are errors in the Go sense but data in the protocol
// sense: check them with IsAnalysisStatus before treating an error as a
// failure.
package errors
