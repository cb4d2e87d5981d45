package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/credential"
	"github.com/loykin/botexport/internal/document"
	"github.com/loykin/botexport/internal/retry"
	"github.com/loykin/botexport/internal/transport"
)

type fakeCaller struct {
	mu     sync.Mutex
	routes map[string]string
	fail   map[string]error
	calls  []string
}

func (f *fakeCaller) Do(_ context.Context, req transport.Request) (*transport.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Path)
	if err := f.fail[req.Path]; err != nil {
		return &transport.Result{Path: req.Path, Outcome: retry.Unauthorized}, err
	}
	body, ok := f.routes[req.Path]
	if !ok {
		return &transport.Result{Path: req.Path, Status: 404, Outcome: retry.PermanentFailure}, nil
	}
	return &transport.Result{Path: req.Path, Status: 200, Outcome: retry.Success, Value: document.Value(body)}, nil
}

func guildFixture(guilds, channels int) map[string]string {
	routes := map[string]string{
		"/oauth2/applications/@me": `{"id":"100","name":"exporter","icon":"abc","verify_key":"vk"}`,
		"/users/@me":               `{"id":"100","username":"exporter","bot":true}`,
		"/gateway/bot":             `{"url":"wss://gateway","shards":1,"session_start_limit":{"total":1000,"remaining":999}}`,
	}
	list := "["
	for g := 1; g <= guilds; g++ {
		gid := fmt.Sprintf("%d", g)
		if g > 1 {
			list += ","
		}
		list += fmt.Sprintf(`{"id":"%s","name":"guild %s"}`, gid, gid)
		routes["/guilds/"+gid+"?with_counts=true"] = fmt.Sprintf(
			`{"id":"%s","name":"guild %s","approximate_member_count":%d,"roles":[{"id":"r%s","name":"@everyone"}]}`, gid, gid, 10*g, gid)

		chs := "["
		for c := 1; c <= channels; c++ {
			if c > 1 {
				chs += ","
			}
			chs += fmt.Sprintf(`{"id":"%s%d","type":0,"name":"c%d"}`, gid, c, c)
			routes[fmt.Sprintf("/channels/%s%d/messages?limit=100", gid, c)] = `[{"id":"m1"},{"id":"m2"}]`
		}
		routes["/guilds/"+gid+"/channels"] = chs + "]"
		routes["/guilds/"+gid+"/members?limit=1000"] = `[{"user":{"id":"shared"}},{"user":{"id":"u` + gid + `"}}]`
	}
	routes["/users/@me/guilds"] = list + "]"
	return routes
}

func tokenCred(t *testing.T) *credential.Credential {
	t.Helper()
	c, err := credential.FromToken("MTAw.abc.def", "Bot")
	require.NoError(t, err)
	return c
}

func runDefault(t *testing.T, fc *fakeCaller, cred *credential.Credential) (*Report, error) {
	t.Helper()
	return Default().Run(context.Background(), Options{
		Client:     fc,
		Credential: cred,
		Logger:     common.Discard(),
		RunID:      "run-1",
	})
}

func TestDefaultTable(t *testing.T) {
	steps := Default().Steps()
	require.NotEmpty(t, steps)
	assert.Equal(t, "application_info", steps[0].Name)
	assert.Equal(t, "metadata", steps[len(steps)-1].Name)
	assert.Len(t, steps, 42)
}

func TestTokenExport(t *testing.T) {
	fc := &fakeCaller{routes: guildFixture(2, 3)}
	report, err := runDefault(t, fc, tokenCred(t))
	require.NoError(t, err)
	doc := report.Document

	assert.Len(t, doc.Get("guilds").Array(), 2)
	channels := doc.Get("guild_channels").Map()
	require.Len(t, channels, 2)
	for _, list := range channels {
		assert.Len(t, list.Array(), 3)
	}
	roles := doc.Get("guild_roles").Map()
	require.Len(t, roles, 2)
	for _, list := range roles {
		assert.Len(t, list.Array(), 1)
	}
	assert.Len(t, doc.Get("detailed_guilds").Array(), 2)

	members := doc.Get("member_counts")
	assert.Equal(t, int64(30), members.Get("total_members").Int())
	assert.Equal(t, int64(3), members.Get("unique_members_found").Int())

	stats := doc.Get("message_stats")
	assert.Equal(t, int64(6), stats.Get("channels_sampled").Int())
	assert.Equal(t, int64(12), stats.Get("total_messages_sampled").Int())

	usage := doc.Get("usage_stats_summary")
	assert.Equal(t, int64(2), usage.Get("guilds").Int())
	assert.Equal(t, int64(6), usage.Get("channels").Int())
	assert.Equal(t, int64(2), usage.Get("roles").Int())

	assert.Contains(t, doc.Get("auth_url").Get("url").String(), "client_id=100")
	assert.Equal(t, "https://cdn.discordapp.com/app-icons/100/abc.png", doc.Get("application_assets").Get("asset_urls.0.url").String())
	assert.Equal(t, int64(999), doc.Get("rate_limits").Get("session_start_limit.remaining").Int())
	assert.Contains(t, doc.Get("intents_analysis").Get("possible_intents").String(), "GUILD_MESSAGES")

	meta := doc.Get("metadata")
	assert.Equal(t, "token", meta.Get("export_method").String())
	assert.Equal(t, "run-1", meta.Get("run_id").String())
	var components []string
	for _, c := range meta.Get("export_components").Array() {
		components = append(components, c.String())
	}
	assert.Equal(t, doc.Topics(), components)
	assert.Contains(t, components, "metadata")

	_, skipped, failed := report.Counts()
	assert.Zero(t, failed)
	assert.Zero(t, skipped)
}

func TestTopicOrderFollowsSteps(t *testing.T) {
	fc := &fakeCaller{routes: guildFixture(1, 1)}
	report, err := runDefault(t, fc, tokenCred(t))
	require.NoError(t, err)

	var want []string
	for _, s := range report.Steps {
		if s.Status == StatusOK {
			want = append(want, s.Topic)
		}
	}
	assert.Equal(t, want, report.Document.Topics())
}

func TestIdentifierModeMakesNoCalls(t *testing.T) {
	fc := &fakeCaller{routes: guildFixture(2, 3)}
	cred, err := credential.FromIdentifier("4242")
	require.NoError(t, err)

	report, err := runDefault(t, fc, cred)
	require.NoError(t, err)

	assert.Empty(t, fc.calls)
	assert.Equal(t, []string{"auth_url", "usage_stats_summary", "public_info", "rate_limits", "metadata"}, report.Document.Topics())
	assert.Contains(t, report.Document.Get("auth_url").Get("url").String(), "client_id=4242")
	assert.Equal(t, "bot_id", report.Document.Get("metadata").Get("export_method").String())
	assert.Equal(t, "4242", report.Document.Get("public_info").Get("bot_id").String())
	assert.False(t, report.Document.Has("guilds"))
}

func TestUnauthorizedAbortsRun(t *testing.T) {
	fc := &fakeCaller{
		routes: guildFixture(1, 1),
		fail: map[string]error{
			"/users/@me": &transport.FatalError{Method: "GET", Path: "/users/@me", Status: 401, Err: transport.ErrUnauthorized},
		},
	}
	report, err := runDefault(t, fc, tokenCred(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrUnauthorized))
	assert.True(t, report.Aborted)

	assert.Equal(t, []string{"application_info"}, report.Document.Topics())
	assert.Len(t, report.Steps, 2)
	assert.Equal(t, []string{"/oauth2/applications/@me", "/users/@me"}, fc.calls)
}

func TestPermanentFailuresStillWriteFragments(t *testing.T) {
	fc := &fakeCaller{routes: map[string]string{}}
	report, err := runDefault(t, fc, tokenCred(t))
	require.NoError(t, err)

	assert.Len(t, report.Steps, len(Default().Steps()))
	_, _, failed := report.Counts()
	assert.Zero(t, failed)
	assert.Equal(t, "[]", report.Document.Get("guilds").Raw)
	assert.Equal(t, "{}", report.Document.Get("user_info").Raw)
	assert.Equal(t, "{}", report.Document.Get("guild_channels").Raw)
	assert.True(t, report.Document.Has("metadata"))
}

func TestEachOmitsEmptyChildren(t *testing.T) {
	routes := guildFixture(2, 1)
	delete(routes, "/guilds/2/channels")
	fc := &fakeCaller{routes: routes}
	report, err := runDefault(t, fc, tokenCred(t))
	require.NoError(t, err)

	channels := report.Document.Get("guild_channels").Map()
	assert.Len(t, channels, 1)
	assert.Contains(t, channels, "1")
}

func TestStepPanicIsIsolated(t *testing.T) {
	p := MustNew(
		Step{Name: "boom", Kind: KindCustom, Run: func(context.Context, *Env) (document.Value, error) {
			panic("nil map")
		}},
		Step{Name: "broken", Kind: KindCustom, Run: func(context.Context, *Env) (document.Value, error) {
			return nil, errors.New("parse failure")
		}},
		Step{Name: "after", Kind: KindCustom, Run: func(context.Context, *Env) (document.Value, error) {
			return document.Value(`{"ok":true}`), nil
		}},
	)
	report, err := p.Run(context.Background(), Options{Client: &fakeCaller{}, Logger: common.Discard()})
	require.NoError(t, err)

	assert.Equal(t, []string{"boom", "broken"}, report.FailedSteps())
	assert.Equal(t, []string{"after"}, report.Document.Topics())
	sr, ok := report.Step("boom")
	require.True(t, ok)
	assert.Contains(t, sr.Err.Error(), "panicked")
}

func TestCancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := Default().Run(ctx, Options{Client: &fakeCaller{}, Credential: tokenCred(t), Logger: common.Discard()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Aborted)
	assert.Zero(t, report.Document.Len())
}

func TestNewValidation(t *testing.T) {
	noop := func(context.Context, *Env) (document.Value, error) { return nil, nil }
	tests := []struct {
		name  string
		steps []Step
	}{
		{"duplicate topic", []Step{{Name: "a", Kind: KindCustom, Run: noop}, {Name: "a", Kind: KindCustom, Run: noop}}},
		{"forward dependency", []Step{{Name: "a", Kind: KindCustom, Run: noop, DependsOn: []string{"b"}}, {Name: "b", Kind: KindCustom, Run: noop}}},
		{"unknown dependency", []Step{{Name: "a", Kind: KindCustom, Run: noop, DependsOn: []string{"zzz"}}}},
		{"self dependency", []Step{{Name: "a", Kind: KindCustom, Run: noop, DependsOn: []string{"a"}}}},
		{"fetch without path", []Step{{Name: "a", Kind: KindFetch}}},
		{"each without parent", []Step{{Name: "a", Kind: KindEach, Path: "/x/{{.ID}}"}}},
		{"bad template", []Step{{Name: "a", Kind: KindFetch, Path: "/x/{{.ID"}}},
		{"custom without run", []Step{{Name: "a", Kind: KindCustom}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.steps...)
			assert.Error(t, err)
		})
	}
}

func TestSelect(t *testing.T) {
	names := func(p *Pipeline) []string {
		var out []string
		for _, s := range p.Steps() {
			out = append(out, s.Name)
		}
		return out
	}

	p, err := Default().Select([]string{"guild_channels"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"guilds", "guild_channels", "usage_stats_summary", "metadata"}, names(p))

	p, err = Default().Select([]string{"commands"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"application_info", "guilds", "global_commands", "guild_commands", "usage_stats_summary", "metadata"}, names(p))

	p, err = Default().Select(nil, []string{"basic_info", "metadata"})
	require.NoError(t, err)
	got := names(p)
	assert.NotContains(t, got, "application_info")
	assert.NotContains(t, got, "user_info")
	assert.Contains(t, got, "metadata")

	_, err = Default().Select([]string{"nope"}, nil)
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestPacer(t *testing.T) {
	ctx := context.Background()
	free := NewPacer(0)
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, free.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	paced := NewPacer(40 * time.Millisecond)
	start = time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, paced.Wait(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, NewPacer(time.Hour).Wait(ctx))
	assert.Error(t, paced.Wait(cctx))
}

func TestPacerGapFollowsSlowCall(t *testing.T) {
	ctx := context.Background()
	p := NewPacer(40 * time.Millisecond)
	require.NoError(t, p.Wait(ctx))
	time.Sleep(60 * time.Millisecond)
	p.Done()

	start := time.Now()
	require.NoError(t, p.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	free := NewPacer(0)
	free.Done()
	start = time.Now()
	require.NoError(t, free.Wait(ctx))
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}
