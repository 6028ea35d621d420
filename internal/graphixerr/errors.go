// Package graphixerr defines the error kinds surfaced to operators (spec §7),
// as sentinel values that call sites wrap with context via fmt.Errorf("%w").
// The API layer unwraps with errors.Is to map an internal error onto a
// machine-readable code.
package graphixerr

import "errors"

var (
	// ErrSourceResolutionFailure: a ConfigSource could not enumerate indexers.
	// Logged; the polling round continues without that source's indexers.
	ErrSourceResolutionFailure = errors.New("source resolution failure")

	// ErrIndexerUnavailable: a single indexer HTTP/GraphQL call failed.
	// Recorded in failed_queries; the round continues.
	ErrIndexerUnavailable = errors.New("indexer unavailable")

	// ErrMalformedResponse: a PoI/block hash was not 32 bytes, or a required
	// field was missing. The observation is dropped.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrStoreUnavailable: a persistence error. In the Poller it stops the
	// remaining observation writes for the current indexer; other indexers
	// and the metadata refresh still run, and the next tick retries.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBisectionUnresolvable: no agreeing ancestor was found, or a bisection
	// step timed out. Written into the run's error field; other pairs proceed.
	ErrBisectionUnresolvable = errors.New("bisection unresolvable")

	// ErrInvestigationInputInvalid: the submitted PoI list didn't resolve, or
	// spans more than one deployment. Recorded as the report's error by the
	// investigator.
	ErrInvestigationInputInvalid = errors.New("investigation input invalid")
)

// Code returns the machine-readable GraphQL error code for err, matching it
// against the sentinel kinds above via errors.Is. Unrecognized errors map to
// "INTERNAL".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrSourceResolutionFailure):
		return "SOURCE_RESOLUTION_FAILURE"
	case errors.Is(err, ErrIndexerUnavailable):
		return "INDEXER_UNAVAILABLE"
	case errors.Is(err, ErrMalformedResponse):
		return "MALFORMED_RESPONSE"
	case errors.Is(err, ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	case errors.Is(err, ErrBisectionUnresolvable):
		return "BISECTION_UNRESOLVABLE"
	case errors.Is(err, ErrInvestigationInputInvalid):
		return "INVESTIGATION_INPUT_INVALID"
	default:
		return "INTERNAL"
	}
}
