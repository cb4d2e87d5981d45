package credential

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestDeriveBotID(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"base64 snowflake", "MTIzNDU2Nzg5MDEyMzQ1Njc4.GaBcDe.rest", "123456789012345678"},
		{"padded segment", "MTEyMjMzNDQ1NTY2Nzc4ODk5MA==.x.y", "1122334455667788990"},
		{"plain segment kept", "abc.def.ghi", "abc"},
		{"no dot", "opaque", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveBotID(tt.token); got != tt.want {
				t.Fatalf("DeriveBotID(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestFromToken(t *testing.T) {
	c, err := FromToken("  MTIzNDU2Nzg5MDEyMzQ1Njc4.a.b ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.HasToken() || c.Mode() != ModeToken {
		t.Fatalf("expected token mode")
	}
	if got := c.AuthorizationHeader(); got != "Bearer MTIzNDU2Nzg5MDEyMzQ1Njc4.a.b" {
		t.Fatalf("header = %q", got)
	}
	if c.BotID() != "123456789012345678" || c.ExportMethod() != "token" {
		t.Fatalf("bot id %q method %q", c.BotID(), c.ExportMethod())
	}

	bot, _ := FromToken("Bot abc.def.ghi", "")
	if bot.AuthorizationHeader() != "Bot abc.def.ghi" {
		t.Fatalf("prefix should select scheme, got %q", bot.AuthorizationHeader())
	}

	if _, err := FromToken("   ", "Bot"); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestFromIdentifier(t *testing.T) {
	c, err := FromIdentifier("42")
	if err != nil {
		t.Fatal(err)
	}
	if c.HasToken() || c.AuthorizationHeader() != "" {
		t.Fatalf("identifier mode must not carry authorization")
	}
	if c.ExportMethod() != "bot_id" || c.BotID() != "42" {
		t.Fatalf("unexpected identifier credential: %+v", c)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	if _, err := Resolve(ctx, Source{}); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("empty source: %v", err)
	}
	if _, err := Resolve(ctx, Source{Token: "a.b.c", BotID: "1"}); !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("both set: %v", err)
	}
	c, err := Resolve(ctx, Source{BotID: "7"})
	if err != nil || c.Mode() != ModeIdentifier {
		t.Fatalf("bot id source: %v %+v", err, c)
	}
	c, err = Resolve(ctx, Source{Token: "a.b.c", Scheme: "Bot"})
	if err != nil || c.AuthorizationHeader() != "Bot a.b.c" {
		t.Fatalf("token source: %v %+v", err, c)
	}
}

func TestClientCredentialsAcquire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		id, secret, ok := r.BasicAuth()
		if !ok || id != "app" || secret != "shh" {
			t.Errorf("basic auth = %q %q %v", id, secret, ok)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "granted",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	c, err := Resolve(context.Background(), Source{OAuth2: &ClientCredentialsConfig{
		ClientID: "app", ClientSecret: "shh", TokenURL: srv.URL,
	}})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if c.AuthorizationHeader() != "Bearer granted" || c.BotID() != "app" {
		t.Fatalf("unexpected credential: %q %q", c.AuthorizationHeader(), c.BotID())
	}
}

func TestClientCredentialsMissingSecret(t *testing.T) {
	cfg := &ClientCredentialsConfig{ClientID: "app"}
	if _, err := cfg.Acquire(context.Background()); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestAuthorizeURL(t *testing.T) {
	raw := AuthorizeURL("", "42", "")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "discord.com" || u.Path != "/oauth2/authorize" {
		t.Fatalf("unexpected endpoint: %s", raw)
	}
	q := u.Query()
	if q.Get("client_id") != "42" || q.Get("permissions") != "8" || q.Get("scope") != "bot applications.commands" {
		t.Fatalf("unexpected query: %v", q)
	}
	if q.Has("state") {
		t.Fatalf("state should be omitted: %s", raw)
	}
}
