package metric

import (
	stderrors "errors"
	"log/slog"

	"github.com/c360/docfeed/errors"
)

// Reporter counts feed errors and logs them. It is the default error
// side-channel of a watch.
type Reporter struct {
	metrics *Metrics
	logger  *slog.Logger
	kind    string
}

// NewReporter creates a Reporter for watches of the given kind ("item" or
// "collection"). Both metrics and logger may be nil.
func NewReporter(metrics *Metrics, logger *slog.Logger, kind string) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{metrics: metrics, logger: logger, kind: kind}
}

// Report records err.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}
	errorKind := errors.Kind(err)
	r.metrics.RecordError(r.kind, errorKind)

	var de *errors.DecodeError
	if stderrors.As(err, &de) {
		r.logger.Warn("Snapshot could not be decoded",
			"kind", r.kind,
			"snapshot_id", de.SnapshotID,
			"error", de.Err)
		return
	}
	r.logger.Warn("Feed error",
		"kind", r.kind,
		"error_kind", errorKind,
		"error", err)
}
