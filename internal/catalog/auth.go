package catalog

import (
	"context"

	"golang.org/x/oauth2"
)

// Scopes requested when linking a connection. Playlist modification
// requires both private and public scopes plus library read for track
// lookups.
var Scopes = []string{
	"playlist-modify-private",
	"playlist-modify-public",
	"playlist-read-private",
	"user-library-read",
}

// OAuthConfig builds the authorization-code flow configuration for the
// provider.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}
}

// AuthCodeURL returns the provider consent URL for the given CSRF
// state.
func AuthCodeURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for the initial token pair.
func Exchange(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	return cfg.Exchange(ctx, code)
}
