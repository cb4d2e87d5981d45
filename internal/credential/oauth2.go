package credential

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/loykin/botexport/internal/constants"
)

// ClientCredentialsConfig exchanges an application's id and secret for a bearer token.
type ClientCredentialsConfig struct {
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret"`
	TokenURL     string   `mapstructure:"token_url" yaml:"token_url"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes"`
}

func (c *ClientCredentialsConfig) configured() bool {
	return strings.TrimSpace(c.ClientID) != "" || strings.TrimSpace(c.ClientSecret) != ""
}

// Acquire performs the client credentials grant and returns a Bearer credential
// whose bot id is the client id.
func (c *ClientCredentialsConfig) Acquire(ctx context.Context) (*Credential, error) {
	id := strings.TrimSpace(c.ClientID)
	secret := strings.TrimSpace(c.ClientSecret)
	if id == "" || secret == "" {
		return nil, errors.New("oauth2: client_id and client_secret are required for client_credentials grant")
	}
	tokenURL := strings.TrimSpace(c.TokenURL)
	if tokenURL == "" {
		tokenURL = constants.DefaultTokenURL
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = []string{"identify", "applications.commands.update"}
	}
	cc := &clientcredentials.Config{
		ClientID:     id,
		ClientSecret: secret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("oauth2: empty access token")
	}
	scheme := tok.Type()
	if scheme == "" {
		scheme = constants.DefaultAuthScheme
	}
	return &Credential{mode: ModeToken, token: tok.AccessToken, botID: id, scheme: scheme}, nil
}

// AuthorizeURL builds the URL an owner visits to add the application to a guild.
func AuthorizeURL(authURL, clientID, permissions string, scopes ...string) string {
	if authURL == "" {
		authURL = constants.DefaultAuthorizeURL
	}
	if permissions == "" {
		permissions = constants.DefaultInvitePermissions
	}
	if len(scopes) == 0 {
		scopes = []string{"bot", "applications.commands"}
	}
	cfg := oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{AuthURL: authURL},
		Scopes:   scopes,
	}
	return cfg.AuthCodeURL("", oauth2.SetAuthURLParam("permissions", permissions))
}
