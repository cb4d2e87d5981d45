package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loykin/botexport/internal/constants"
	"github.com/loykin/botexport/internal/credential"
	"github.com/loykin/botexport/internal/document"
)

// raw returns the JSON of r, or def when r does not exist.
func raw(r gjson.Result, def string) json.RawMessage {
	if !r.Exists() {
		return json.RawMessage(def)
	}
	return json.RawMessage(r.Raw)
}

func interactionsStep(context.Context, *Env) (document.Value, error) {
	return document.From(struct {
		Note string `json:"note"`
	}{"Historical interaction data is not available from the REST API; log interactions via a webhook or gateway listener."})
}

func presenceStep(_ context.Context, env *Env) (document.Value, error) {
	return document.From(struct {
		Status  string          `json:"status"`
		BotUser json.RawMessage `json:"bot_user"`
	}{
		Status:  "Presence details cannot be read back from the REST API",
		BotUser: raw(env.Doc.Get(topicUserInfo), "{}"),
	})
}

func authURLStep(_ context.Context, env *Env) (document.Value, error) {
	scopes := []string{"bot", "applications.commands"}
	perm, _ := strconv.Atoi(constants.DefaultInvitePermissions)
	return document.From(struct {
		URL         string   `json:"url"`
		Scopes      []string `json:"scopes"`
		Permissions int      `json:"permissions"`
	}{
		URL:         credential.AuthorizeURL(constants.DefaultAuthorizeURL, env.AppID(), constants.DefaultInvitePermissions, scopes...),
		Scopes:      scopes,
		Permissions: perm,
	})
}

// memberCountsStep totals the advertised member counts and samples up to one
// page of members per guild to estimate how many distinct users the bot sees.
// Guilds with more members than the sample limit are undercounted.
func memberCountsStep(ctx context.Context, env *Env) (document.Value, error) {
	pacer := env.NewPacer()
	counts := map[string]document.Value{}
	var ids []string
	total := int64(0)
	unique := map[string]struct{}{}

	for _, g := range env.Doc.Get(topicGuildDetails).Array() {
		id := g.Get("id").String()
		if id == "" {
			continue
		}
		n := g.Get("approximate_member_count")
		if !n.Exists() {
			n = g.Get("member_count")
		}
		if _, seen := counts[id]; !seen {
			ids = append(ids, id)
		}
		counts[id] = document.Value(strconv.FormatInt(n.Int(), 10))
		total += n.Int()

		if err := pacer.Wait(ctx); err != nil {
			return nil, err
		}
		members, err := env.Get(ctx, fmt.Sprintf("/guilds/%s/members?limit=%d", id, constants.MemberSampleLimit))
		pacer.Done()
		if err != nil {
			return nil, err
		}
		for _, m := range members.Records() {
			if uid := m.Get("user.id").String(); uid != "" {
				unique[uid] = struct{}{}
			}
		}
	}

	return document.From(struct {
		GuildCounts        json.RawMessage `json:"guild_counts"`
		TotalMembers       int64           `json:"total_members"`
		UniqueMembersFound int             `json:"unique_members_found"`
	}{json.RawMessage(mapValue(ids, counts)), total, len(unique)})
}

func messageStatsStep(ctx context.Context, env *Env) (document.Value, error) {
	pacer := env.NewPacer()
	sampled := map[string]document.Value{}
	var ids []string
	channels, total := 0, 0

	var walkErr error
	env.Doc.Get(topicGuildChannels).ForEach(func(_, list gjson.Result) bool {
		taken := 0
		for _, ch := range list.Array() {
			if taken >= constants.MessageStatsChannelsPerGuild {
				break
			}
			if !isTextChannel(ch) {
				continue
			}
			taken++
			cid := ch.Get("id").String()
			if cid == "" {
				continue
			}
			if walkErr = pacer.Wait(ctx); walkErr != nil {
				return false
			}
			var msgs document.Value
			msgs, walkErr = env.Get(ctx, fmt.Sprintf("/channels/%s/messages?limit=%d", cid, constants.MessageSampleLimit))
			pacer.Done()
			if walkErr != nil {
				return false
			}
			if n := len(msgs.Records()); n > 0 {
				if _, seen := sampled[cid]; !seen {
					ids = append(ids, cid)
				}
				sampled[cid] = document.Value(strconv.Itoa(n))
				total += n
				channels++
			}
		}
		return channels < constants.MessageStatsChannelCap
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return document.From(struct {
		Note                 string          `json:"note"`
		SampledChannels      json.RawMessage `json:"sampled_channels"`
		ChannelsSampled      int             `json:"channels_sampled"`
		TotalMessagesSampled int             `json:"total_messages_sampled"`
	}{
		Note:                 "Message history is sampled from a few text channels only.",
		SampledChannels:      json.RawMessage(mapValue(ids, sampled)),
		ChannelsSampled:      channels,
		TotalMessagesSampled: total,
	})
}

type assetURL struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func applicationAssetsStep(_ context.Context, env *Env) (document.Value, error) {
	app := env.Doc.Get(topicAppInfo)
	appID := env.AppID()
	urls := []assetURL{}
	if icon := app.Get("icon").String(); icon != "" {
		urls = append(urls, assetURL{"icon", fmt.Sprintf("%s/app-icons/%s/%s.png", constants.CDNBaseURL, appID, icon)})
	}
	if cover := app.Get("cover_image").String(); cover != "" {
		urls = append(urls, assetURL{"cover_image", fmt.Sprintf("%s/app-assets/%s/store/%s.png", constants.CDNBaseURL, appID, cover)})
	}
	return document.From(struct {
		Icon       json.RawMessage `json:"icon"`
		CoverImage json.RawMessage `json:"cover_image"`
		AssetURLs  []assetURL      `json:"asset_urls"`
	}{raw(app.Get("icon"), "null"), raw(app.Get("cover_image"), "null"), urls})
}

func usageStatsStep(_ context.Context, env *Env) (document.Value, error) {
	d := env.Doc
	return document.From(struct {
		Guilds                int   `json:"guilds"`
		Commands              int   `json:"commands"`
		GuildSpecificCommands int   `json:"guild_specific_commands"`
		MembersTotal          int64 `json:"members_total"`
		Channels              int   `json:"channels"`
		Webhooks              int   `json:"webhooks"`
		Emojis                int   `json:"emojis"`
		Stickers              int   `json:"stickers"`
		ScheduledEvents       int   `json:"scheduled_events"`
		Roles                 int   `json:"roles"`
		Integrations          int   `json:"integrations"`
	}{
		Guilds:                arrayLen(d, topicGuilds),
		Commands:              arrayLen(d, "global_commands"),
		GuildSpecificCommands: sumLengths(d, "guild_commands"),
		MembersTotal:          d.Get(topicMemberCounts).Get("total_members").Int(),
		Channels:              sumLengths(d, topicGuildChannels),
		Webhooks:              sumLengths(d, "guild_webhooks"),
		Emojis:                sumLengths(d, "guild_emojis"),
		Stickers:              sumLengths(d, "guild_stickers"),
		ScheduledEvents:       sumLengths(d, "guild_events"),
		Roles:                 sumLengths(d, "guild_roles"),
		Integrations:          sumLengths(d, "guild_integrations"),
	})
}

func publicInfoStep(_ context.Context, env *Env) (document.Value, error) {
	return document.From(struct {
		Note  string `json:"note"`
		BotID string `json:"bot_id"`
	}{"Public listing lookups are not performed; only the identifier is recorded.", env.BotID()})
}

func oauth2InfoStep(_ context.Context, env *Env) (document.Value, error) {
	app := env.Doc.Get(topicAppInfo)
	return document.From(struct {
		RedirectURIs      json.RawMessage `json:"redirect_uris"`
		VerifyKey         json.RawMessage `json:"verify_key"`
		TermsOfServiceURL json.RawMessage `json:"terms_of_service_url"`
		PrivacyPolicyURL  json.RawMessage `json:"privacy_policy_url"`
	}{
		raw(app.Get("redirect_uris"), "[]"),
		raw(app.Get("verify_key"), "null"),
		raw(app.Get("terms_of_service_url"), "null"),
		raw(app.Get("privacy_policy_url"), "null"),
	})
}

func connectionInfoStep(_ context.Context, env *Env) (document.Value, error) {
	gw := env.Doc.Get(topicGatewayInfo)
	limit := gw.Get("session_start_limit")
	out := struct {
		Gateway           json.RawMessage `json:"gateway"`
		APIVersion        int             `json:"api_version"`
		LastExportTime    string          `json:"last_export_time"`
		SessionStartLimit json.RawMessage `json:"session_start_limit,omitempty"`
	}{
		Gateway:        raw(gw, "{}"),
		APIVersion:     constants.APIVersion,
		LastExportTime: env.now().Format(time.RFC3339),
	}
	if limit.IsObject() {
		out.SessionStartLimit = json.RawMessage(limit.Raw)
	}
	return document.From(out)
}

func intentsStep(_ context.Context, env *Env) (document.Value, error) {
	intents := []string{}
	guilds := env.Doc.Get(topicGuildDetails).Array()
	anyNonEmpty := func(field string) bool {
		for _, g := range guilds {
			if len(g.Get(field).Array()) > 0 {
				return true
			}
		}
		return false
	}
	if anyNonEmpty("members") {
		intents = append(intents, "GUILD_MEMBERS")
	}
	if anyNonEmpty("presences") {
		intents = append(intents, "GUILD_PRESENCES")
	}
	if env.Doc.Get(topicMessageStats).Get("total_messages_sampled").Int() > 0 {
		intents = append(intents, "GUILD_MESSAGES")
	}
	return document.From(struct {
		PossibleIntents []string `json:"possible_intents"`
		Note            string   `json:"note"`
	}{intents, "Estimated from accessible data, not the configured intents."})
}

func rateLimitsStep(_ context.Context, env *Env) (document.Value, error) {
	out := struct {
		GlobalLimit        string          `json:"global_limit"`
		WebhookLimit       string          `json:"webhook_limit"`
		MessageLimitNormal string          `json:"message_limit_normal"`
		MessageLimitBurst  string          `json:"message_limit_burst"`
		Note               string          `json:"note"`
		SessionStartLimit  json.RawMessage `json:"session_start_limit,omitempty"`
	}{
		GlobalLimit:        "50 requests per second per bot",
		WebhookLimit:       "30 requests per minute per channel",
		MessageLimitNormal: "5 messages per 5 seconds per user",
		MessageLimitBurst:  "5 messages per 2 seconds per user",
		Note:               "Documented platform limits, not measured for this bot.",
	}
	if limit := env.Doc.Get(topicGatewayInfo).Get("session_start_limit"); limit.IsObject() {
		out.SessionStartLimit = json.RawMessage(limit.Raw)
	}
	return document.From(out)
}

// metadataStep lists every topic in the document, itself included.
func metadataStep(_ context.Context, env *Env) (document.Value, error) {
	components := env.Doc.Topics()
	if !env.Doc.Has(topicMetadata) {
		components = append(components, topicMetadata)
	}
	method := constants.ExportMethodBotID
	if env.Cred.HasToken() {
		method = constants.ExportMethodToken
	}
	return document.From(struct {
		ExportTime       string   `json:"export_time"`
		ExporterVersion  string   `json:"exporter_version"`
		APIVersion       int      `json:"api_version"`
		RunID            string   `json:"run_id"`
		BotID            string   `json:"bot_id"`
		ExportMethod     string   `json:"export_method"`
		ExportComponents []string `json:"export_components"`
	}{
		ExportTime:       env.now().Format(time.RFC3339),
		ExporterVersion:  constants.ExporterVersion,
		APIVersion:       constants.APIVersion,
		RunID:            env.RunID,
		BotID:            env.BotID(),
		ExportMethod:     method,
		ExportComponents: components,
	})
}
