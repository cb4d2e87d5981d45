// Package credential models the two ways a run can authenticate: a bot token
// with full access, or a public application identifier with no network access.
package credential

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/botexport/internal/constants"
)

// Mode is the active credential mode.
type Mode int

const (
	ModeToken Mode = iota
	ModeIdentifier
)

func (m Mode) String() string {
	if m == ModeIdentifier {
		return "identifier"
	}
	return "token"
}

var (
	ErrNoCredential = errors.New("credential: a token, a bot id or oauth2 client credentials are required")
	ErrAmbiguous    = errors.New("credential: token and bot id are mutually exclusive")
)

// Credential is immutable once built.
type Credential struct {
	mode   Mode
	token  string
	botID  string
	scheme string
}

// FromToken builds a token mode credential. scheme is the Authorization prefix
// ("Bearer" when empty, "Bot" for classic bot tokens).
func FromToken(token, scheme string) (*Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoCredential
	}
	for _, p := range []string{"Bot ", "Bearer "} {
		if strings.HasPrefix(token, p) {
			if scheme == "" {
				scheme = strings.TrimSpace(p)
			}
			token = strings.TrimSpace(strings.TrimPrefix(token, p))
		}
	}
	if scheme = strings.TrimSpace(scheme); scheme == "" {
		scheme = constants.DefaultAuthScheme
	}
	return &Credential{mode: ModeToken, token: token, botID: DeriveBotID(token), scheme: scheme}, nil
}

// FromIdentifier builds an identifier-only credential.
func FromIdentifier(botID string) (*Credential, error) {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return nil, ErrNoCredential
	}
	return &Credential{mode: ModeIdentifier, botID: botID}, nil
}

func (c *Credential) Mode() Mode { return c.mode }

func (c *Credential) HasToken() bool { return c != nil && c.mode == ModeToken }

func (c *Credential) Token() string { return c.token }

func (c *Credential) Scheme() string { return c.scheme }

// BotID is the identifier given explicitly or derived from the token. May be empty.
func (c *Credential) BotID() string { return c.botID }

// AuthorizationHeader returns "<scheme> <token>", or "" in identifier mode.
func (c *Credential) AuthorizationHeader() string {
	if !c.HasToken() {
		return ""
	}
	return c.scheme + " " + c.token
}

// ExportMethod is the value recorded in the export metadata.
func (c *Credential) ExportMethod() string {
	if c.HasToken() {
		return constants.ExportMethodToken
	}
	return constants.ExportMethodBotID
}

// DeriveBotID extracts the application id from a bot token. The first
// dot-separated segment is the base64 encoded snowflake; when it does not
// decode to digits the segment is returned as is.
func DeriveBotID(token string) string {
	seg, _, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || seg == "" {
		return ""
	}
	for _, enc := range []*base64.Encoding{base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(strings.TrimRight(seg, "=")); err == nil && isDigits(string(b)) {
			return string(b)
		}
	}
	return seg
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Source is the loosely specified credential input from flags and config.
type Source struct {
	Token  string                   `mapstructure:"token" yaml:"token"`
	Scheme string                   `mapstructure:"scheme" yaml:"scheme"`
	BotID  string                   `mapstructure:"bot_id" yaml:"bot_id"`
	OAuth2 *ClientCredentialsConfig `mapstructure:"oauth2" yaml:"oauth2"`
}

// Resolve picks exactly one credential from src. A token wins over oauth2 client
// credentials; a bot id alone selects identifier mode.
func Resolve(ctx context.Context, src Source) (*Credential, error) {
	token := strings.TrimSpace(src.Token)
	botID := strings.TrimSpace(src.BotID)
	if token != "" && botID != "" {
		return nil, ErrAmbiguous
	}
	switch {
	case token != "":
		return FromToken(token, src.Scheme)
	case src.OAuth2 != nil && src.OAuth2.configured():
		c, err := src.OAuth2.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire oauth2 token: %w", err)
		}
		return c, nil
	case botID != "":
		return FromIdentifier(botID)
	default:
		return nil, ErrNoCredential
	}
}
