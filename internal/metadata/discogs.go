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

const discogsBaseURL = "https://api.discogs.com"

// DiscogsResult is one database search hit.
type DiscogsResult struct {
	ID    int    `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Year  string `json:"year"`
}

type discogsSearchResponse struct {
	Results []DiscogsResult `json:"results"`
}

// DiscogsRelease is the detailed record behind a search hit.
type DiscogsRelease struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
}

// DiscogsClient queries the Discogs database with a personal access
// token. Like the MusicBrainz client it paces its own requests.
type DiscogsClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
	limiter    *rate.Limiter
	retry      retryx.Policy
}

// DiscogsOption configures a DiscogsClient.
type DiscogsOption func(*DiscogsClient)

// WithDiscogsBaseURL overrides the service endpoint (tests).
func WithDiscogsBaseURL(u string) DiscogsOption {
	return func(c *DiscogsClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithDiscogsRetryPolicy overrides the retry policy.
func WithDiscogsRetryPolicy(p retryx.Policy) DiscogsOption {
	return func(c *DiscogsClient) { c.retry = p }
}

// WithDiscogsLimiter overrides the request pacer.
func WithDiscogsLimiter(l *rate.Limiter) DiscogsOption {
	return func(c *DiscogsClient) { c.limiter = l }
}

// NewDiscogsClient creates a Discogs client. Both the token and a
// descriptive user agent are required by the service.
func NewDiscogsClient(token, userAgent string, opts ...DiscogsOption) *DiscogsClient {
	c := &DiscogsClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    discogsBaseURL,
		token:      token,
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

// get performs a paced GET. A 404 yields a nil result without error;
// credential rejections are never retried.
func (c *DiscogsClient) get(ctx context.Context, endpoint string, params url.Values, result any) (found bool, err error) {
	err = retryx.Do(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retryx.Permanent(err)
		}

		reqURL := c.baseURL + endpoint
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return retryx.Permanent(err)
		}
		req.Header.Set("Authorization", "Discogs token="+c.token)
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errs.VerificationSource("discogs", "discogs request failed", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			found = false
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return errs.E(errs.KindAuthentication,
				fmt.Sprintf("discogs rejected token: status %d", resp.StatusCode), nil)
		case resp.StatusCode != http.StatusOK:
			return errs.VerificationSource("discogs",
				fmt.Sprintf("discogs API error: status %d", resp.StatusCode), nil).
				WithDetail("status", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return errs.VerificationSource("discogs", "failed to decode discogs response", err)
		}
		found = true
		return nil
	})
	return found, err
}

// SearchTrack searches the database for a master release matching the
// artist and track, optionally narrowed by album. It returns the best
// hit's URI (discogs:master:<id> or discogs:release:<id>), or "" when
// nothing matches.
func (c *DiscogsClient) SearchTrack(ctx context.Context, artist, track, album string) (string, error) {
	query := fmt.Sprintf("%s - %s", artist, track)
	if album != "" {
		query = album + " " + query
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("type", "master")
	params.Set("per_page", "1")

	var resp discogsSearchResponse
	found, err := c.get(ctx, "/database/search", params, &resp)
	if err != nil {
		return "", err
	}
	if !found || len(resp.Results) == 0 {
		return "", nil
	}

	result := resp.Results[0]
	switch result.Type {
	case "master":
		return fmt.Sprintf("discogs:master:%d", result.ID), nil
	case "release":
		return fmt.Sprintf("discogs:release:%d", result.ID), nil
	}
	return "", nil
}

// GetRelease fetches the detailed record behind a discogs URI. A nil
// release means the record no longer exists.
func (c *DiscogsClient) GetRelease(ctx context.Context, uri string) (*DiscogsRelease, error) {
	parts := strings.Split(uri, ":")
	if len(parts) != 3 || parts[0] != "discogs" {
		return nil, errs.Validation(fmt.Sprintf("invalid discogs URI: %s", uri))
	}

	var endpoint string
	switch parts[1] {
	case "master":
		endpoint = "/masters/" + parts[2]
	case "release":
		endpoint = "/releases/" + parts[2]
	default:
		return nil, errs.Validation(fmt.Sprintf("unsupported discogs URI type: %s", parts[1]))
	}

	var release DiscogsRelease
	found, err := c.get(ctx, endpoint, url.Values{}, &release)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &release, nil
}

// Name implements Source.
func (c *DiscogsClient) Name() string { return "discogs" }

// VerifyVersion implements Source. Discogs search is coarser than
// MusicBrainz, so existence of any matching master counts as
// confirmation regardless of version tag.
func (c *DiscogsClient) VerifyVersion(ctx context.Context, artist, title string, _ match.VersionTag) (bool, error) {
	uri, err := c.SearchTrack(ctx, artist, title, "")
	if err != nil {
		return false, err
	}
	return uri != "", nil
}
