// Package metadata verifies track versions against independent record
// databases. MusicBrainz is the primary source and Discogs the
// fallback; both are best-effort and callers treat their failures as
// absence of confirmation, never as resolution errors.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tunebridge/internal/errs"
	"tunebridge/internal/match"
	"tunebridge/internal/retryx"
)

const (
	musicBrainzBaseURL = "https://musicbrainz.org/ws/2"

	// MusicBrainz allows roughly one request per second per client.
	// 1.1s keeps a margin under the limit.
	requestSpacing = 1100 * time.Millisecond

	recordingSearchLimit = 10
)

// Recording is one MusicBrainz recording search hit.
type Recording struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Disambiguation string `json:"disambiguation"`
	Score          int    `json:"score"`
}

// Artist is a MusicBrainz artist search hit.
type Artist struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Disambiguation string `json:"disambiguation"`
	Country        string `json:"country"`
}

// ReleaseGroup is a MusicBrainz release-group search hit.
type ReleaseGroup struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	PrimaryType      string `json:"primary-type"`
	FirstReleaseDate string `json:"first-release-date"`
}

type recordingSearchResponse struct {
	Recordings []Recording `json:"recordings"`
}

type artistSearchResponse struct {
	Artists []Artist `json:"artists"`
}

type releaseGroupSearchResponse struct {
	ReleaseGroups []ReleaseGroup `json:"release-groups"`
}

// MusicBrainzClient queries the MusicBrainz JSON web service. Each
// client instance paces its own requests; two clients do not share a
// limiter.
type MusicBrainzClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	retry      retryx.Policy
}

// MusicBrainzOption configures a MusicBrainzClient.
type MusicBrainzOption func(*MusicBrainzClient)

// WithMusicBrainzBaseURL overrides the service endpoint (tests).
func WithMusicBrainzBaseURL(u string) MusicBrainzOption {
	return func(c *MusicBrainzClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithMusicBrainzRetryPolicy overrides the retry policy.
func WithMusicBrainzRetryPolicy(p retryx.Policy) MusicBrainzOption {
	return func(c *MusicBrainzClient) { c.retry = p }
}

// WithMusicBrainzLimiter overrides the request pacer (tests use an
// unpaced limiter).
func WithMusicBrainzLimiter(l *rate.Limiter) MusicBrainzOption {
	return func(c *MusicBrainzClient) { c.limiter = l }
}

// NewMusicBrainzClient creates a paced MusicBrainz client. userAgent is
// mandatory; MusicBrainz rejects anonymous clients.
func NewMusicBrainzClient(userAgent string, opts ...MusicBrainzOption) *MusicBrainzClient {
	c := &MusicBrainzClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    musicBrainzBaseURL,
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(rate.Every(requestSpacing), 1),
		retry: retryx.Policy{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
			Retryable:   retryableSourceError,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableSourceError retries transport and upstream failures but
// never credential rejections.
func retryableSourceError(err error) bool {
	return !errs.IsKind(err, errs.KindAuthentication)
}

func (c *MusicBrainzClient) get(ctx context.Context, endpoint string, params url.Values, result any) error {
	params.Set("fmt", "json")
	return retryx.Do(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retryx.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return retryx.Permanent(err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errs.VerificationSource("musicbrainz", "musicbrainz request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return errs.E(errs.KindAuthentication,
				fmt.Sprintf("musicbrainz rejected client: status %d", resp.StatusCode), nil)
		}
		if resp.StatusCode != http.StatusOK {
			return errs.VerificationSource("musicbrainz",
				fmt.Sprintf("musicbrainz API error: status %d", resp.StatusCode), nil).
				WithDetail("status", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return errs.VerificationSource("musicbrainz", "failed to decode musicbrainz response", err)
		}
		return nil
	})
}

// luceneQuote escapes a value for embedding in a Lucene phrase query.
func luceneQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// SearchRecordings looks up recordings matching artist and title.
func (c *MusicBrainzClient) SearchRecordings(ctx context.Context, artist, title string) ([]Recording, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("artist:%s AND recording:%s", luceneQuote(artist), luceneQuote(title)))
	params.Set("limit", fmt.Sprintf("%d", recordingSearchLimit))

	var resp recordingSearchResponse
	if err := c.get(ctx, "/recording", params, &resp); err != nil {
		return nil, err
	}
	return resp.Recordings, nil
}

// SearchArtist returns the best artist hit for a name, or nil when the
// database has no match.
func (c *MusicBrainzClient) SearchArtist(ctx context.Context, name string) (*Artist, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("artist:%s", luceneQuote(name)))
	params.Set("limit", "1")

	var resp artistSearchResponse
	if err := c.get(ctx, "/artist", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Artists) == 0 {
		return nil, nil
	}
	return &resp.Artists[0], nil
}

// SearchReleaseGroup returns the best release-group hit for an
// artist/album pair, or nil when the database has no match.
func (c *MusicBrainzClient) SearchReleaseGroup(ctx context.Context, artist, album string) (*ReleaseGroup, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("artist:%s AND releasegroup:%s", luceneQuote(artist), luceneQuote(album)))
	params.Set("limit", "1")

	var resp releaseGroupSearchResponse
	if err := c.get(ctx, "/release-group", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.ReleaseGroups) == 0 {
		return nil, nil
	}
	return &resp.ReleaseGroups[0], nil
}

// Name implements Source.
func (c *MusicBrainzClient) Name() string { return "musicbrainz" }

// VerifyVersion implements Source. For alternate versions it scans the
// hits' disambiguation and title for the tag's keywords. For studio or
// unclassified versions the mere existence of a recording confirms the
// track.
func (c *MusicBrainzClient) VerifyVersion(ctx context.Context, artist, title string, tag match.VersionTag) (bool, error) {
	recordings, err := c.SearchRecordings(ctx, artist, title)
	if err != nil {
		return false, err
	}
	if len(recordings) == 0 {
		return false, nil
	}

	if !match.IsAlternate(tag) {
		return true, nil
	}

	keywords := match.Keywords(tag)
	for _, rec := range recordings {
		disambiguation := strings.ToLower(rec.Disambiguation)
		recTitle := strings.ToLower(rec.Title)
		for _, kw := range keywords {
			if strings.Contains(disambiguation, kw) || strings.Contains(recTitle, kw) {
				return true, nil
			}
		}
	}
	return false, nil
}
