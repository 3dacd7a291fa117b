// Package errors provides standardized error handling patterns for docfeed components.
//
// # Overview
//
// The errors package implements a three-class error classification system: Transient
// (temporary, retryable), Invalid (bad input or undecodable data, non-retryable), and
// Fatal (unrecoverable, stop processing).
//
// Feeds never return these errors synchronously. Transport and decode failures become
// error states, and only the one-shot resolution helpers return errors to their callers.
// The classification exists for the telemetry side-channel and for callers that want to
// decide on a retry policy of their own.
//
// # Error Taxonomy
//
//   - Transport: the upstream subscription's error channel fired (permission denied,
//     connection lost). Classified transient unless it is a permission problem.
//   - Decode: a snapshot body failed to decode. Represented by *DecodeError, which
//     carries the offending snapshot's id and matches ErrDecodeFailed.
//   - Timeout: ErrResolveTimeout, returned when a one-shot resolution gives up. The feed
//     itself may still be healthy.
//   - Registry anomaly: ErrUnregisteredKey, logged when eviction races ahead of
//     registration. Never returned to callers.
//
// Kind maps an error onto the label used by the metrics package ("transport",
// "decode", "timeout").
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//
// The generic Wrap() function preserves the original error's classification.
//
// # Integration with errors.As/Is
//
//	var de *errors.DecodeError
//	if errors.As(err, &de) {
//	    logger.Warn("Bad document", "snapshot", de.SnapshotID, "error", de.Err)
//	}
//
//	if errors.Is(err, errors.ErrResolveTimeout) {
//	    // the feed did not settle in time
//	}
package errors
