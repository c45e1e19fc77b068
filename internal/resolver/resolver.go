// Package resolver maps requested tracks (artist/title, optional album
// and version) onto catalog track IDs using weighted fuzzy scoring and
// optional external verification.
package resolver

import (
	"context"

	"tunebridge/internal/catalog"
	"tunebridge/internal/logging"
	"tunebridge/internal/match"
	"tunebridge/internal/metrics"
)

const (
	artistWeight     = 30.0
	titleWeight      = 40.0
	preferenceWeight = 30.0

	// verificationBonus is added when an independent record database
	// confirms the candidate in the requested version.
	verificationBonus = 20.0

	// acceptThreshold is strict: a candidate scoring exactly the
	// threshold is rejected.
	acceptThreshold = 60.0

	broadSearchLimit = 20
)

// Outcome labels for resolution metrics.
const (
	OutcomeResolved = "resolved"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Catalog is the provider search surface the resolver needs.
type Catalog interface {
	SearchTracks(ctx context.Context, artist, title, album string, limit int) ([]catalog.Candidate, error)
}

// VersionVerifier confirms a track version against record databases.
type VersionVerifier interface {
	VerifyVersion(ctx context.Context, artist, title string, tag match.VersionTag) (bool, error)
}

// Request names one track to resolve. Album and Version are optional;
// an empty Version means no preference.
type Request struct {
	Artist  string
	Title   string
	Album   string
	Version match.VersionTag
}

// Resolver scores provider candidates against a request. The verifier
// is optional; without one the verification bonus is never awarded.
type Resolver struct {
	catalog  Catalog
	verifier VersionVerifier
	log      *logging.Logger
	metrics  *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithVerifier enables the external verification bonus.
func WithVerifier(v VersionVerifier) Option {
	return func(r *Resolver) { r.verifier = v }
}

// WithMetrics records resolution outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a Resolver over the given catalog.
func New(c Catalog, log *logging.Logger, opts ...Option) *Resolver {
	r := &Resolver{catalog: c, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds the catalog ID for a requested track. An empty ID with
// a nil error means no candidate cleared the acceptance threshold;
// errors are reserved for catalog failures.
//
// When an album is given, a narrow search (limit 1) runs first and its
// hit is accepted outright. Otherwise a broad search (limit 20) is
// scored candidate by candidate and the best score wins if it clears
// the threshold.
func (r *Resolver) Resolve(ctx context.Context, req Request) (string, error) {
	id, err := r.resolve(ctx, req)
	switch {
	case err != nil:
		r.metrics.RecordResolution(OutcomeError)
	case id == "":
		r.metrics.RecordResolution(OutcomeNotFound)
	default:
		r.metrics.RecordResolution(OutcomeResolved)
	}
	return id, err
}

// ResolveAll resolves every request, returning the accepted catalog
// IDs in request order and an "artist - title" label for each track
// that could not be placed. A failure on one track never stops the
// rest.
func (r *Resolver) ResolveAll(ctx context.Context, reqs []Request) (ids []string, failed []string) {
	for _, req := range reqs {
		id, err := r.Resolve(ctx, req)
		if err != nil {
			r.log.Zerolog().Warn().
				Err(err).
				Str("artist", req.Artist).
				Str("title", req.Title).
				Msg("track resolution failed")
		}
		if id == "" {
			failed = append(failed, req.Artist+" - "+req.Title)
			continue
		}
		ids = append(ids, id)
	}
	return ids, failed
}

func (r *Resolver) resolve(ctx context.Context, req Request) (string, error) {
	if req.Album != "" {
		candidates, err := r.catalog.SearchTracks(ctx, req.Artist, req.Title, req.Album, 1)
		if err != nil {
			return "", err
		}
		if len(candidates) > 0 {
			return candidates[0].ExternalID, nil
		}
	}

	candidates, err := r.catalog.SearchTracks(ctx, req.Artist, req.Title, "", broadSearchLimit)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", nil
	}

	bestScore := -1.0
	bestID := ""
	for _, cand := range candidates {
		score := r.score(ctx, req, cand)
		if score > bestScore {
			bestScore = score
			bestID = cand.ExternalID
		}
	}

	if bestScore > acceptThreshold {
		return bestID, nil
	}

	r.log.Zerolog().Debug().
		Str("artist", req.Artist).
		Str("title", req.Title).
		Float64("best_score", bestScore).
		Msg("no candidate cleared the acceptance threshold")
	return "", nil
}

// score rates one candidate. Weights: artist 30, title 40, album or
// version preference 30, verification bonus 20.
func (r *Resolver) score(ctx context.Context, req Request, cand catalog.Candidate) float64 {
	score := 0.0

	artistMatch := 0.0
	for _, a := range cand.Artists {
		if s := match.Similarity(req.Artist, a); s > artistMatch {
			artistMatch = s
		}
	}
	score += artistMatch * artistWeight

	score += match.Similarity(req.Title, cand.Title) * titleWeight

	if req.Album != "" {
		score += match.Similarity(req.Album, cand.Album) * preferenceWeight
	} else {
		score += versionPreference(req.Version, match.InferVersion(cand.Title, cand.Album))
	}

	if match.IsAlternate(req.Version) && r.verifier != nil {
		score += r.verifyBonus(ctx, req, cand)
	}

	return score
}

// versionPreference scores how well a candidate's detected version
// serves the requested one.
func versionPreference(requested, detected match.VersionTag) float64 {
	switch requested {
	case match.VersionLive, match.VersionRemix, match.VersionCompilation,
		match.VersionRemaster, match.VersionInstrumental, match.VersionAcoustic:
		if detected == requested {
			return 30
		}
		return 5
	case match.VersionOriginal:
		// Original wants the studio cut specifically, not a remaster.
		switch detected {
		case match.VersionStudio:
			return 30
		case match.VersionRemaster:
			return 10
		default:
			return 5
		}
	default:
		// No preference: studio first, remaster over live/remix.
		switch detected {
		case match.VersionStudio:
			return 30
		case match.VersionRemaster:
			return 20
		default:
			return 10
		}
	}
}

// verifyBonus asks the verification chain about the candidate.
// Verification is best-effort: a failed chain contributes nothing and
// never aborts resolution.
func (r *Resolver) verifyBonus(ctx context.Context, req Request, cand catalog.Candidate) float64 {
	artist := req.Artist
	if len(cand.Artists) > 0 {
		artist = cand.Artists[0]
	}

	confirmed, err := r.verifier.VerifyVersion(ctx, artist, cand.Title, req.Version)
	if err != nil {
		r.log.Zerolog().Debug().
			Err(err).
			Str("artist", artist).
			Str("title", cand.Title).
			Msg("metadata verification skipped")
		return 0
	}
	if confirmed {
		return verificationBonus
	}
	return 0
}
