package metadata

import (
	"context"

	"tunebridge/internal/logging"
	"tunebridge/internal/match"
	"tunebridge/internal/metrics"
)

// Source checks one record database for the existence of a track in a
// given version.
type Source interface {
	Name() string
	VerifyVersion(ctx context.Context, artist, title string, tag match.VersionTag) (bool, error)
}

// Verifier chains sources in priority order. A confirmed hit from any
// source is a positive verdict; a source that errors or finds nothing
// hands off to the next. A clean miss across the whole chain is a
// negative verdict, not an error.
type Verifier struct {
	sources []Source
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewVerifier builds a chain over the given sources, consulted in
// order.
func NewVerifier(log *logging.Logger, sources ...Source) *Verifier {
	return &Verifier{sources: sources, log: log}
}

// WithMetrics records a per-source result counter.
func (v *Verifier) WithMetrics(m *metrics.Metrics) *Verifier {
	v.metrics = m
	return v
}

// VerifyVersion reports whether a record database confirms the track in
// the requested version. An error is returned only when every source
// failed; the last failure wins.
func (v *Verifier) VerifyVersion(ctx context.Context, artist, title string, tag match.VersionTag) (bool, error) {
	var lastErr error
	sawVerdict := false

	for _, src := range v.sources {
		confirmed, err := src.VerifyVersion(ctx, artist, title, tag)
		if err != nil {
			v.metrics.RecordVerification(src.Name(), "error")
			v.log.Zerolog().Warn().
				Err(err).
				Str("source", src.Name()).
				Str("artist", artist).
				Str("title", title).
				Msg("verification source failed, trying next")
			lastErr = err
			continue
		}
		if confirmed {
			v.metrics.RecordVerification(src.Name(), "confirmed")
			return true, nil
		}
		v.metrics.RecordVerification(src.Name(), "miss")
		sawVerdict = true
	}

	if sawVerdict {
		return false, nil
	}
	return false, lastErr
}
