package pipeline

import (
	"github.com/tidwall/gjson"

	"github.com/loykin/botexport/internal/document"
)

const (
	topicAppInfo       = "application_info"
	topicUserInfo      = "user_info"
	topicGuilds        = "guilds"
	topicGuildDetails  = "detailed_guilds"
	topicGuildChannels = "guild_channels"
	topicGatewayInfo   = "gateway_info"
	topicMemberCounts  = "member_counts"
	topicMessageStats  = "message_stats"
	topicMetadata      = "metadata"
)

func perGuild(name, group, path, desc string) Step {
	return Step{
		Name:          name,
		Group:         group,
		Description:   desc,
		Kind:          KindEach,
		Parent:        topicGuilds,
		Path:          path,
		Shape:         ShapeMap,
		RequiresToken: true,
	}
}

func perGuildApp(name, group, path, desc string) Step {
	s := perGuild(name, group, path, desc)
	s.RequiresApp = true
	s.DependsOn = []string{topicAppInfo}
	return s
}

func appFetch(name, path, desc string) Step {
	return Step{
		Name:          name,
		Description:   desc,
		Kind:          KindFetch,
		Path:          path,
		RequiresToken: true,
		RequiresApp:   true,
		DependsOn:     []string{topicAppInfo},
		Empty:         document.EmptyArray,
	}
}

// DefaultSteps is the full export, in execution order.
func DefaultSteps() []Step {
	return []Step{
		{Name: topicAppInfo, Group: "basic_info", Description: "Application owning the bot", Kind: KindFetch,
			Path: "/oauth2/applications/@me", RequiresToken: true},
		{Name: topicUserInfo, Group: "basic_info", Description: "Bot user account", Kind: KindFetch,
			Path: "/users/@me", RequiresToken: true},

		{Name: topicGuilds, Group: "guilds", Description: "Guilds the bot is a member of", Kind: KindFetch,
			Path: "/users/@me/guilds", RequiresToken: true, Empty: document.EmptyArray},
		{Name: topicGuildDetails, Group: "guilds", Description: "Full guild objects with counts", Kind: KindEach,
			Parent: topicGuilds, Path: "/guilds/{{.ID}}?with_counts=true", Shape: ShapeList, RequiresToken: true},

		{Name: "global_commands", Group: "commands", Description: "Global application commands", Kind: KindFetch,
			Path: "/applications/{{.AppID}}/commands", RequiresToken: true, RequiresApp: true,
			DependsOn: []string{topicAppInfo}, Empty: document.EmptyArray},
		perGuildApp("guild_commands", "commands", "/applications/{{.AppID}}/guilds/{{.ID}}/commands",
			"Guild scoped application commands"),
		perGuildApp("guild_permissions", "permissions", "/applications/{{.AppID}}/guilds/{{.ID}}/commands/permissions",
			"Command permission overrides per guild"),

		perGuild(topicGuildChannels, "channels", "/guilds/{{.ID}}/channels", "Channels per guild"),

		appFetch("webhooks", "/applications/{{.AppID}}/webhooks", "Application webhooks"),
		perGuild("guild_webhooks", "webhooks", "/guilds/{{.ID}}/webhooks", "Webhooks per guild"),

		{Name: "interactions", Description: "Interaction history note", Kind: KindCustom,
			RequiresToken: true, Run: interactionsStep},
		{Name: "presence", Description: "Presence configuration", Kind: KindCustom,
			RequiresToken: true, DependsOn: []string{topicUserInfo}, Run: presenceStep},

		{Name: "voice_regions", Group: "voice", Description: "Available voice regions", Kind: KindFetch,
			Path: "/voice/regions", RequiresToken: true, Empty: document.EmptyArray},
		{Name: "guild_voice_states", Group: "voice", Description: "Voice states from guild objects", Kind: KindPluck,
			Parent: topicGuildDetails, Field: "voice_states", RequiresToken: true},

		perGuild("guild_emojis", "emoji", "/guilds/{{.ID}}/emojis", "Custom emoji per guild"),
		perGuild("guild_stickers", "stickers", "/guilds/{{.ID}}/stickers", "Custom stickers per guild"),
		perGuild("guild_events", "scheduled_events", "/guilds/{{.ID}}/scheduled-events", "Scheduled events per guild"),
		{Name: "guild_roles", Group: "roles", Description: "Roles from guild objects", Kind: KindPluck,
			Parent: topicGuildDetails, Field: "roles", RequiresToken: true},
		perGuild("guild_invites", "invites", "/guilds/{{.ID}}/invites", "Active invites per guild"),
		perGuild("guild_bans", "bans", "/guilds/{{.ID}}/bans", "Ban lists per guild"),
		perGuild("guild_audit_logs", "audit_logs", "/guilds/{{.ID}}/audit-logs?limit=100", "Recent audit log entries"),
		perGuild("guild_widgets", "widgets", "/guilds/{{.ID}}/widget", "Widget settings per guild"),
		perGuild("guild_integrations", "integrations", "/guilds/{{.ID}}/integrations", "Integrations per guild"),
		perGuild("guild_templates", "templates", "/guilds/{{.ID}}/templates", "Guild templates"),
		perGuild("guild_welcome_screens", "welcome_screens", "/guilds/{{.ID}}/welcome-screen", "Welcome screens"),
		perGuild("guild_auto_mod_rules", "auto_moderation", "/guilds/{{.ID}}/auto-moderation/rules",
			"Auto moderation rules"),

		{Name: "stage_instances", Description: "Live stage instances", Kind: KindFetch,
			Path: "/stage-instances", RequiresToken: true},
		appFetch("role_connections_metadata", "/applications/{{.AppID}}/role-connections/metadata",
			"Linked role metadata"),
		appFetch("entitlements", "/applications/{{.AppID}}/entitlements", "Application entitlements"),
		appFetch("skus", "/applications/{{.AppID}}/skus", "Application SKUs"),

		{Name: "auth_url", Description: "OAuth2 URL for adding the bot", Kind: KindCustom,
			RequiresApp: true, DependsOn: []string{topicAppInfo}, Run: authURLStep},
		{Name: topicMemberCounts, Description: "Member totals and sampled unique members", Kind: KindCustom,
			RequiresToken: true, DependsOn: []string{topicGuildDetails}, Run: memberCountsStep},
		{Name: topicMessageStats, Description: "Message sample from a few text channels", Kind: KindCustom,
			RequiresToken: true, DependsOn: []string{topicGuildChannels}, Run: messageStatsStep},
		{Name: topicGatewayInfo, Description: "Gateway URL and session limits", Kind: KindFetch,
			Path: "/gateway/bot", RequiresToken: true},
		{Name: "application_assets", Description: "Application icon and cover URLs", Kind: KindCustom,
			RequiresToken: true, RequiresApp: true, DependsOn: []string{topicAppInfo}, Run: applicationAssetsStep},

		{Name: "usage_stats_summary", Description: "Counts derived from the exported topics", Kind: KindCustom,
			Always: true, Run: usageStatsStep},
		{Name: "public_info", Description: "Public bot identity", Kind: KindCustom, Run: publicInfoStep},
		{Name: "oauth2_info", Description: "OAuth2 settings from the application", Kind: KindCustom,
			RequiresToken: true, DependsOn: []string{topicAppInfo}, Run: oauth2InfoStep},
		{Name: "connection_info", Description: "Gateway connectivity summary", Kind: KindCustom,
			RequiresToken: true, DependsOn: []string{topicGatewayInfo}, Run: connectionInfoStep},
		{Name: "intents_analysis", Description: "Gateway intents inferred from accessible data", Kind: KindCustom,
			RequiresToken: true, DependsOn: []string{topicGuildDetails, topicMessageStats}, Run: intentsStep},
		{Name: "rate_limits", Description: "Documented platform rate limits", Kind: KindCustom, Run: rateLimitsStep},

		{Name: topicMetadata, Description: "Export run metadata", Kind: KindCustom, Always: true, Run: metadataStep},
	}
}

// Default is the validated default table.
func Default() *Pipeline {
	return MustNew(DefaultSteps()...)
}

func isTextChannel(r gjson.Result) bool {
	return r.Get("type").Int() == 0
}
