package botexport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botexport"
	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/sandbox"
)

type sleeps struct {
	mu  sync.Mutex
	got []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.got = append(s.got, d)
	s.mu.Unlock()
	return nil
}

func (s *sleeps) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.got...)
}

func startSandbox(t *testing.T) (*sandbox.Server, string) {
	t.Helper()
	sb := sandbox.New(sandbox.Options{Logger: common.Discard()})
	srv := httptest.NewServer(sb.Handler())
	t.Cleanup(srv.Close)
	return sb, srv.URL + sandbox.BasePath
}

func newExporter(t *testing.T, baseURL string, cred *botexport.Credential, sl *sleeps) *botexport.Exporter {
	t.Helper()
	rc := botexport.DefaultRetryConfig()
	rc.Sleep = sl.sleep
	e, err := botexport.New(botexport.Options{
		Credential: cred,
		BaseURL:    baseURL,
		Retry:      rc,
		Logger:     common.Discard(),
		Metrics:    botexport.NewMetrics(),
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestSandboxTokenExport(t *testing.T) {
	sb, base := startSandbox(t)
	cred, err := botexport.FromToken(sb.Token(), "Bot")
	require.NoError(t, err)
	assert.Equal(t, sb.Fixture().AppID, cred.BotID())

	report, err := newExporter(t, base, cred, &sleeps{}).Export(context.Background(), "e2e")
	require.NoError(t, err)
	doc := report.Document

	assert.Len(t, doc.Get("guilds").Array(), 2)
	channels := doc.Get("guild_channels").Map()
	require.Len(t, channels, 2)
	for gid, list := range channels {
		assert.Len(t, list.Array(), 3, gid)
	}
	roles := doc.Get("guild_roles").Map()
	require.Len(t, roles, 2)
	for gid, list := range roles {
		assert.Len(t, list.Array(), 1, gid)
	}

	assert.Equal(t, int64(30), doc.Get("member_counts").Get("total_members").Int())
	assert.Equal(t, int64(3), doc.Get("member_counts").Get("unique_members_found").Int())
	assert.Equal(t, int64(12), doc.Get("message_stats").Get("total_messages_sampled").Int())

	var components []string
	for _, c := range doc.Get("metadata").Get("export_components").Array() {
		components = append(components, c.String())
	}
	assert.Equal(t, doc.Topics(), components)
	assert.Contains(t, components, "metadata")

	_, _, failed := report.Counts()
	assert.Zero(t, failed)
	for _, r := range sb.Requests() {
		assert.True(t, r.Authorized, r.Path)
	}
}

func TestSandboxIdentifierExportSendsNoAuthenticatedRequest(t *testing.T) {
	sb, base := startSandbox(t)
	cred, err := botexport.FromIdentifier(sb.Fixture().AppID)
	require.NoError(t, err)

	report, err := newExporter(t, base, cred, &sleeps{}).Export(context.Background(), "")
	require.NoError(t, err)

	for _, r := range sb.Requests() {
		assert.False(t, r.Authorized, r.Path)
	}
	assert.Empty(t, sb.Requests())
	for _, topic := range []string{"application_info", "guilds", "guild_channels", "gateway_info"} {
		assert.False(t, report.Document.Has(topic), topic)
	}
	assert.Equal(t, "bot_id", report.Document.Get("metadata").Get("export_method").String())
}

func TestSandboxUnauthorizedAborts(t *testing.T) {
	sb, base := startSandbox(t)
	cred, err := botexport.FromToken(sb.Fixture().Token("wrong"), "Bot")
	require.NoError(t, err)

	report, err := newExporter(t, base, cred, &sleeps{}).Export(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, botexport.ErrUnauthorized)
	assert.True(t, botexport.IsFatal(err))
	assert.True(t, botexport.Aborted(err))
	assert.True(t, report.Aborted)
	assert.Zero(t, report.Document.Len())
	assert.Len(t, sb.Requests(), 1)
}

func TestSandboxRateLimitIsRetried(t *testing.T) {
	sb, base := startSandbox(t)
	sb.InjectFault(sandbox.Fault{Method: http.MethodGet, Path: "/users/@me", Status: http.StatusTooManyRequests, Count: 4, RetryAfter: 1.5})
	cred, err := botexport.FromToken(sb.Token(), "Bot")
	require.NoError(t, err)

	sl := &sleeps{}
	e, err := botexport.New(botexport.Options{
		Credential: cred,
		BaseURL:    base,
		Retry:      &botexport.RetryConfig{MaxAttempts: 3, RetryDelay: time.Second, Sleep: sl.sleep},
		Only:       []string{"basic_info"},
		Logger:     common.Discard(),
	})
	require.NoError(t, err)
	report, err := e.Export(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, sb.Fixture().AppID, report.Document.Get("user_info").Get("id").String())
	got := sl.all()
	require.Len(t, got, 4, "429s do not consume the transient attempt budget")
	for _, d := range got {
		assert.Equal(t, 1500*time.Millisecond, d)
	}
}

func TestSandboxCreateRoleIssuesOnePost(t *testing.T) {
	sb, base := startSandbox(t)
	cred, err := botexport.FromToken(sb.Token(), "Bot")
	require.NoError(t, err)
	gid := sb.Fixture().Guilds[0].ID

	res, err := newExporter(t, base, cred, &sleeps{}).Action(context.Background(), "create-role",
		map[string]any{"guild_id": gid, "name": "mods", "color": "3447003"})
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.NotEmpty(t, res.Value.Get("id").String())
	assert.Equal(t, "role_mods.json", res.File)

	reqs := sb.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/guilds/"+gid+"/roles", reqs[0].Path)
	created := sb.Created("roles")
	require.Len(t, created, 1)
	assert.EqualValues(t, 3447003, created[0]["color"])
}

func TestSandboxActionPrerequisiteMakesNoCall(t *testing.T) {
	sb, base := startSandbox(t)
	cred, err := botexport.FromToken(sb.Token(), "Bot")
	require.NoError(t, err)

	_, err = newExporter(t, base, cred, &sleeps{}).Action(context.Background(), "create-role", map[string]any{"name": "mods"})
	assert.ErrorIs(t, err, botexport.ErrPrerequisite)
	assert.Empty(t, sb.Requests())
}
