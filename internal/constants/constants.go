package constants

import "time"

// Platform API
const (
	DefaultBaseURL    = "https://discord.com/api/v10"
	APIVersion        = 10
	DefaultUserAgent  = "DiscordBotExporter/1.0"
	DefaultAuthScheme = "Bearer"
	ExporterVersion   = "1.0.0"

	DefaultAuthorizeURL = "https://discord.com/oauth2/authorize"
	DefaultTokenURL     = "https://discord.com/api/oauth2/token"
	InviteURLPrefix     = "https://discord.gg/"
	CDNBaseURL          = "https://cdn.discordapp.com"
)

// Transport retry policy
const (
	DefaultMaxAttempts      = 3
	DefaultRetryDelay       = 5 * time.Second
	DefaultRateLimitWait    = 5 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
	DefaultBackoffFactor    = 1.0
	DefaultMaxRetryDelay    = 60 * time.Second
	DefaultStorePersistWait = 100 * time.Millisecond
)

// Export pipeline
const (
	DefaultPacing = 500 * time.Millisecond

	// message_stats samples at most this many text channels per guild and stops
	// once this many channels have been sampled overall.
	MessageStatsChannelsPerGuild = 3
	MessageStatsChannelCap       = 10
	MessageSampleLimit           = 100

	MemberSampleLimit = 1000
	AuditLogLimit     = 100

	// Permission integer requested by the generated authorize URL (administrator).
	DefaultInvitePermissions = "8"
)

// Export method recorded in metadata
const (
	ExportMethodToken = "token"
	ExportMethodBotID = "bot_id"
)

// Output
const (
	DefaultOutputPrefix     = "discord_bot_export"
	OutputTimestampLayout   = "20060102_150405"
	UnknownBotID            = "unknown"
	DefaultOutputPermission = 0o644
)

// Run history store
const (
	DefaultSQLitePath       = "botexport.db"
	DefaultRunsTable        = "export_runs"
	DefaultDocumentsTable   = "export_documents"
	DefaultPostgresPort     = 5432
	DefaultPostgresSSLMode  = "disable"
	DefaultSQLiteBusyTimeMs = 5000
	DefaultMaxConnLifetime  = 5 * time.Minute
)

// Sandbox server
const (
	DefaultSandboxAddr  = "127.0.0.1:8089"
	DefaultSandboxToken = "sandbox-token"
)

// Environment
const (
	EnvPrefix = "BOTEXPORT"
)
