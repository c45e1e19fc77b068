// Package catalog implements the streaming catalog provider client.
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tunebridge/internal/errs"
	"tunebridge/internal/retryx"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// Provider identifies this catalog in connection and playlist
	// records.
	Provider = "spotify"

	// BatchSize is the provider's bulk add/replace limit per request.
	BatchSize = 100
)

type spotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

type spotifyAlbum struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

type spotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []spotifyArtist `json:"artists"`
	Album      spotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	URI        string          `json:"uri"`
}

type searchResponse struct {
	Tracks struct {
		Items []spotifyTrack `json:"items"`
		Total int            `json:"total"`
	} `json:"tracks"`
}

type playlistResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type apiErrorResponse struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Candidate is one provider search result considered for matching a
// requested track. Candidates live only for the duration of scoring.
type Candidate struct {
	Title      string
	Artists    []string
	Album      string
	ExternalID string
	DurationMS int
}

// TokenResponse carries the provider's token-refresh grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`

	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Client talks to the Spotify Web API on behalf of one connection.
// Each Client owns its retry policy; transient failures (429, 5xx,
// transport errors) are retried with backoff, credential failures are
// not.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accountsURL string
	accessToken string
	market      string
	retry       retryx.Policy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURLs overrides the API and accounts endpoints (tests).
func WithBaseURLs(api, accounts string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(api, "/")
		c.accountsURL = strings.TrimRight(accounts, "/")
	}
}

// WithMarket scopes searches to a region code.
func WithMarket(market string) ClientOption {
	return func(c *Client) { c.market = market }
}

// WithRetryPolicy overrides the retry policy (tests use fast delays).
func WithRetryPolicy(p retryx.Policy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a catalog client authenticated with accessToken.
func NewClient(accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     spotifyBaseURL,
		accountsURL: spotifyTokenURL,
		accessToken: accessToken,
	}
	c.retry = retryx.Policy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
		Retryable:   retryableCatalogError,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableCatalogError retries rate limiting, server errors, and
// transport failures. Credential and other client errors surface
// immediately.
func retryableCatalogError(err error) bool {
	var e *errs.Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Kind {
	case errs.KindAuthentication, errs.KindValidation:
		return false
	}
	status, _ := e.Detail["status"].(int)
	if status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

// doRequest performs an authenticated request against the API and
// decodes the response into result when non-nil.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body any, result any) error {
	return retryx.Do(ctx, c.retry, func() error {
		var reqBody *strings.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return errs.Validation(fmt.Sprintf("failed to encode request body: %v", err))
			}
			reqBody = strings.NewReader(string(data))
		} else {
			reqBody = strings.NewReader("")
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
		if err != nil {
			return errs.Validation(fmt.Sprintf("failed to create request: %v", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errs.E(errs.KindExternalService, "catalog request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return errs.E(errs.KindAuthentication,
				fmt.Sprintf("catalog rejected credentials: status %d", resp.StatusCode), nil)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var apiErr apiErrorResponse
			_ = json.NewDecoder(resp.Body).Decode(&apiErr)
			return errs.CatalogAPI(
				fmt.Sprintf("catalog API error: status %d", resp.StatusCode),
				resp.StatusCode, nil)
		}

		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return errs.E(errs.KindExternalService, "failed to decode catalog response", err)
			}
		}
		return nil
	})
}

// SearchTracks issues a track search. An album narrows the query; the
// connection's market scopes it when set.
func (c *Client) SearchTracks(ctx context.Context, artist, title, album string, limit int) ([]Candidate, error) {
	query := fmt.Sprintf("track:%s artist:%s", title, artist)
	if album != "" {
		query += fmt.Sprintf(" album:%s", album)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", fmt.Sprintf("%d", limit))
	if c.market != "" {
		params.Set("market", c.market)
	}

	var resp searchResponse
	if err := c.doRequest(ctx, http.MethodGet, "/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(resp.Tracks.Items))
	for _, item := range resp.Tracks.Items {
		artists := make([]string, 0, len(item.Artists))
		for _, a := range item.Artists {
			artists = append(artists, a.Name)
		}
		candidates = append(candidates, Candidate{
			Title:      item.Name,
			Artists:    artists,
			Album:      item.Album.Name,
			ExternalID: item.URI,
			DurationMS: item.DurationMS,
		})
	}
	return candidates, nil
}

// SearchTrackDetails returns the single best catalog hit with its full
// metadata, or nil when nothing matches.
func (c *Client) SearchTrackDetails(ctx context.Context, artist, title, album string) (*Candidate, error) {
	candidates, err := c.SearchTracks(ctx, artist, title, album, 1)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}

// CreatePlaylistOpts carries optional playlist attributes.
type CreatePlaylistOpts struct {
	Description string
	Public      bool
}

// CreatePlaylist creates a playlist for ownerID and returns its id.
func (c *Client) CreatePlaylist(ctx context.Context, ownerID, name string, opts CreatePlaylistOpts) (string, error) {
	body := map[string]any{
		"name":        name,
		"description": opts.Description,
		"public":      opts.Public,
	}
	var resp playlistResponse
	endpoint := fmt.Sprintf("/users/%s/playlists", url.PathEscape(ownerID))
	if err := c.doRequest(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// AddTracks appends track URIs to a playlist in provider-sized batches.
func (c *Client) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
	for i := 0; i < len(uris); i += BatchSize {
		end := min(i+BatchSize, len(uris))
		body := map[string]any{"uris": uris[i:end]}
		if err := c.doRequest(ctx, http.MethodPost, endpoint, body, nil); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceTracks overwrites a playlist's entire track list. The first
// batch goes in a single replace call (clearing the remote list), the
// remainder is appended in provider-sized batches. This is a full
// overwrite, never a diff.
func (c *Client) ReplaceTracks(ctx context.Context, playlistID string, uris []string) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))

	head := uris
	if len(head) > BatchSize {
		head = uris[:BatchSize]
	}
	body := map[string]any{"uris": head}
	if err := c.doRequest(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		return err
	}

	if len(uris) > BatchSize {
		return c.AddTracks(ctx, playlistID, uris[BatchSize:])
	}
	return nil
}

// RefreshToken exchanges a refresh token at the provider's token
// endpoint. A non-success response surfaces the provider's error
// description; the caller must never fall back to the stale token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken, clientID, clientSecret string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errs.Validation(fmt.Sprintf("failed to create token request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.E(errs.KindExternalService, "token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, errs.E(errs.KindExternalService, "failed to decode token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		desc := token.ErrorDescription
		if desc == "" {
			desc = token.ErrorCode
		}
		return nil, errs.TokenRefresh(
			fmt.Sprintf("failed to refresh token: %s", desc), nil).
			WithDetail("status", resp.StatusCode)
	}

	return &token, nil
}
