package dispatch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Params is the union of every action's parameters. Each action reads the
// fields it needs; Requires names them by their mapstructure key.
type Params struct {
	GuildID          string `mapstructure:"guild_id"`
	ChannelID        string `mapstructure:"channel_id"`
	UserID           string `mapstructure:"user_id"`
	MessageID        string `mapstructure:"message_id"`
	ApplicationID    string `mapstructure:"application_id"`
	RoleID           string `mapstructure:"role_id"`
	CommandID        string `mapstructure:"command_id"`
	CategoryID       string `mapstructure:"category_id"`
	WebhookID        string `mapstructure:"webhook_id"`
	WebhookToken     string `mapstructure:"webhook_token"`
	InteractionID    string `mapstructure:"interaction_id"`
	InteractionToken string `mapstructure:"interaction_token"`

	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Content     string `mapstructure:"content"`
	Topic       string `mapstructure:"topic"`
	ChannelType string `mapstructure:"channel_type"`
	Emoji       string `mapstructure:"emoji"`
	Reason      string `mapstructure:"reason"`
	Region      string `mapstructure:"region"`
	Tags        string `mapstructure:"tags"`
	Username    string `mapstructure:"username"`
	AvatarURL   string `mapstructure:"avatar_url"`
	ThreadName  string `mapstructure:"thread_name"`

	// ImageURL is downloaded and embedded as a data URI; ImageData is used as is.
	ImageURL  string `mapstructure:"image_url"`
	ImageData string `mapstructure:"image_data"`
	FileData  string `mapstructure:"file_data"`

	Color               int  `mapstructure:"color"`
	Hoist               bool `mapstructure:"hoist"`
	Mentionable         bool `mapstructure:"mentionable"`
	Bitrate             int  `mapstructure:"bitrate"`
	UserLimit           int  `mapstructure:"user_limit"`
	MaxAge              int  `mapstructure:"max_age"`
	MaxUses             int  `mapstructure:"max_uses"`
	Temporary           bool `mapstructure:"temporary"`
	Unique              bool `mapstructure:"unique"`
	TTS                 bool `mapstructure:"tts"`
	Limit               int  `mapstructure:"limit"`
	AutoArchiveDuration int  `mapstructure:"auto_archive_duration"`
	DeleteMessageDays   int  `mapstructure:"delete_message_days"`
	PrivacyLevel        int  `mapstructure:"privacy_level"`
	CommandType         int  `mapstructure:"command_type"`
	InteractionType     int  `mapstructure:"interaction_type"`
	Enabled             bool `mapstructure:"enabled"`

	StartTime  string `mapstructure:"start_time"`
	EndTime    string `mapstructure:"end_time"`
	Location   string `mapstructure:"location"`
	EntityType int    `mapstructure:"entity_type"`

	EventType       int            `mapstructure:"event_type"`
	TriggerType     int            `mapstructure:"trigger_type"`
	Keywords        []string       `mapstructure:"keywords"`
	TriggerMetadata map[string]any `mapstructure:"trigger_metadata"`
	Actions         []any          `mapstructure:"actions"`
	ExemptRoles     []string       `mapstructure:"exempt_roles"`
	ExemptChannels  []string       `mapstructure:"exempt_channels"`

	AppliedTags     []string       `mapstructure:"applied_tags"`
	Options         []any          `mapstructure:"options"`
	Permissions     []any          `mapstructure:"permissions"`
	WelcomeChannels []any          `mapstructure:"welcome_channels"`
	Components      []any          `mapstructure:"components"`
	Message         map[string]any `mapstructure:"message"`
	Data            map[string]any `mapstructure:"data"`

	EmbedTitle       string `mapstructure:"embed_title"`
	EmbedDescription string `mapstructure:"embed_description"`
	EmbedURL         string `mapstructure:"embed_url"`
	EmbedColor       int    `mapstructure:"embed_color"`
	EmbedImage       string `mapstructure:"embed_image"`
	EmbedThumbnail   string `mapstructure:"embed_thumbnail"`
}

// DefaultParams holds the values used for parameters the caller leaves out.
func DefaultParams() Params {
	return Params{
		ChannelType:         "text",
		Bitrate:             64000,
		MaxAge:              86400,
		Unique:              true,
		Limit:               100,
		AutoArchiveDuration: 1440,
		EntityType:          3,
		CommandType:         2,
		InteractionType:     4,
		EventType:           1,
		TriggerType:         1,
		Enabled:             true,
		EmbedColor:          0x5865F2,
	}
}

func normalizeKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

// DecodeParams decodes a loosely typed map over DefaultParams. Keys may use
// dashes or underscores; strings are converted to numbers and booleans, JSON
// strings to lists and objects, and comma separated strings to string lists.
func DecodeParams(raw map[string]any) (Params, error) {
	p := DefaultParams()
	in := make(map[string]any, len(raw))
	for k, v := range raw {
		in[normalizeKey(k)] = v
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			jsonStringHook,
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(in); err != nil {
		return p, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}

func jsonStringHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || (to.Kind() != reflect.Slice && to.Kind() != reflect.Map) {
		return data, nil
	}
	s := strings.TrimSpace(reflect.ValueOf(data).String())
	if s == "" || (s[0] != '[' && s[0] != '{') {
		return data, nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON value %q: %w", s, err)
	}
	return out, nil
}

// Missing returns the names among keys whose value is unset.
func (p Params) Missing(keys ...string) []string {
	var m map[string]any
	if err := mapstructure.Decode(p, &m); err != nil {
		return keys
	}
	var out []string
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil || reflect.ValueOf(v).IsZero() {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
