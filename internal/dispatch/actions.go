package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/botexport/internal/constants"
	"github.com/loykin/botexport/internal/document"
	"github.com/loykin/botexport/internal/transport"
)

type channelType struct {
	code int
	kind string
}

var channelTypes = map[string]channelType{
	"text":         {0, "channel"},
	"voice":        {2, "voice_channel"},
	"category":     {4, "category"},
	"announcement": {5, "announcement_channel"},
	"forum":        {15, "forum_channel"},
}

// Scheduled event entity types.
const (
	entityStage    = 1
	entityVoice    = 2
	entityExternal = 3
)

func get(path string) transport.Request {
	return transport.Request{Method: http.MethodGet, Path: path}
}

func send(method, path string, body any) transport.Request {
	return transport.Request{Method: method, Path: path, Body: body}
}

func saveAs(kind string, key func(Params) string) func(Params, time.Time) (string, string) {
	return func(p Params, _ time.Time) (string, string) { return kind, key(p) }
}

func byName(p Params) string { return p.Name }

// InviteURL is the public link for an invite code.
func InviteURL(code string) string {
	if code == "" {
		return ""
	}
	return constants.InviteURLPrefix + code
}

// dataURI downloads src and encodes it as a base64 data URI.
func dataURI(ctx context.Context, c *Call, src string) (string, error) {
	body, ctype, err := c.Client.Fetch(ctx, src)
	if err != nil {
		return "", err
	}
	mt, _, _ := mime.ParseMediaType(ctype)
	if !strings.HasPrefix(mt, "image/") {
		mt = "image/png"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

func commandPath(p Params) string {
	if p.GuildID != "" {
		return fmt.Sprintf("/applications/%s/guilds/%s/commands", p.ApplicationID, p.GuildID)
	}
	return fmt.Sprintf("/applications/%s/commands", p.ApplicationID)
}

func validateEvent(p Params) error {
	switch p.EntityType {
	case entityStage, entityVoice:
		if p.ChannelID == "" {
			return errors.New("channel_id is required for stage and voice events")
		}
	case entityExternal:
		if p.Location == "" {
			return errors.New("location is required for external events")
		}
	default:
		return fmt.Errorf("unsupported entity_type %d", p.EntityType)
	}
	return nil
}

func init() {
	Register(Action{
		Name:        "create-channel",
		Description: "Create a text, voice, category, announcement or forum channel",
		Requires:    []string{"guild_id", "name"},
		TokenOnly:   true,
		Validate: func(p Params) error {
			if _, ok := channelTypes[strings.ToLower(p.ChannelType)]; !ok {
				return fmt.Errorf("unsupported channel_type %q", p.ChannelType)
			}
			return nil
		},
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			ct := channelTypes[strings.ToLower(p.ChannelType)]
			body := map[string]any{"name": p.Name, "type": ct.code, "permission_overwrites": []any{}}
			switch ct.code {
			case 2:
				body["bitrate"] = p.Bitrate
				body["user_limit"] = p.UserLimit
			case 4:
			default:
				if p.Topic != "" {
					body["topic"] = p.Topic
				}
			}
			if p.CategoryID != "" && ct.code != 4 {
				body["parent_id"] = p.CategoryID
			}
			return send(http.MethodPost, "/guilds/"+p.GuildID+"/channels", body), nil
		},
		Expect: "id",
		Save: func(p Params, _ time.Time) (string, string) {
			return channelTypes[strings.ToLower(p.ChannelType)].kind, p.Name
		},
	})

	Register(Action{
		Name:        "create-role",
		Description: "Create a role in a guild",
		Requires:    []string{"guild_id", "name"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			return send(http.MethodPost, "/guilds/"+p.GuildID+"/roles", map[string]any{
				"name":        p.Name,
				"color":       p.Color,
				"hoist":       p.Hoist,
				"mentionable": p.Mentionable,
			}), nil
		},
		Expect: "id",
		Save:   saveAs("role", byName),
	})

	Register(Action{
		Name:        "send-message",
		Description: "Send a message, optionally with an embed",
		Requires:    []string{"channel_id"},
		TokenOnly:   true,
		Validate: func(p Params) error {
			if p.Content == "" && BuildEmbed(p) == nil {
				return errors.New("content or an embed is required")
			}
			return nil
		},
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			body := map[string]any{"content": p.Content, "tts": p.TTS}
			if e := BuildEmbed(p); e != nil {
				body["embeds"] = []*Embed{e}
			}
			return send(http.MethodPost, "/channels/"+p.ChannelID+"/messages", body), nil
		},
		Expect: "id",
		Save: func(_ Params, now time.Time) (string, string) {
			return "message", now.Format("20060102150405")
		},
	})

	Register(Action{
		Name:        "create-webhook",
		Description: "Create a webhook; image_url is downloaded as its avatar",
		Requires:    []string{"channel_id", "name"},
		TokenOnly:   true,
		Build: func(ctx context.Context, c *Call, p Params) (transport.Request, error) {
			body := map[string]any{"name": p.Name}
			if p.ImageData != "" {
				body["avatar"] = p.ImageData
			} else if p.ImageURL != "" {
				avatar, err := dataURI(ctx, c, p.ImageURL)
				if err != nil {
					if ctx.Err() != nil {
						return transport.Request{}, ctx.Err()
					}
					c.Logger.Warn("avatar download failed, creating webhook without it", "error", err)
				} else {
					body["avatar"] = avatar
				}
			}
			return send(http.MethodPost, "/channels/"+p.ChannelID+"/webhooks", body), nil
		},
		Expect: "id",
		Save:   saveAs("webhook", byName),
	})

	Register(Action{
		Name:        "create-invite",
		Description: "Create an invite for a channel",
		Requires:    []string{"channel_id"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			return send(http.MethodPost, "/channels/"+p.ChannelID+"/invites", map[string]any{
				"max_age":   p.MaxAge,
				"max_uses":  p.MaxUses,
				"temporary": p.Temporary,
				"unique":    p.Unique,
			}), nil
		},
		Expect: "code",
		Save:   saveAs("invite", func(p Params) string { return p.ChannelID }),
		Note: func(v document.Value) string {
			if u := InviteURL(v.Get("code").String()); u != "" {
				return "Invite URL: " + u
			}
			return ""
		},
	})

	Register(Action{
		Name:        "add-reaction",
		Description: "React to a message",
		Requires:    []string{"channel_id", "message_id", "emoji"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			return send(http.MethodPut, fmt.Sprintf("/channels/%s/messages/%s/reactions/%s/@me",
				p.ChannelID, p.MessageID, url.PathEscape(p.Emoji)), nil), nil
		},
	})

	Register(Action{
		Name:        "create-thread",
		Description: "Start a thread, from a message when message_id is set",
		Requires:    []string{"channel_id", "name"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			body := map[string]any{"name": p.Name, "auto_archive_duration": p.AutoArchiveDuration}
			path := "/channels/" + p.ChannelID + "/threads"
			if p.MessageID != "" {
				path = fmt.Sprintf("/channels/%s/messages/%s/threads", p.ChannelID, p.MessageID)
			}
			return send(http.MethodPost, path, body), nil
		},
		Expect: "id",
		Save:   saveAs("thread", byName),
	})

	Register(Action{
		Name:        "pin-message",
		Description: "Pin a message",
		Requires:    []string{"channel_id", "message_id"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			return send(http.MethodPut, fmt.Sprintf("/channels/%s/pins/%s", p.ChannelID, p.MessageID), nil), nil
		},
	})

	Register(Action{
		Name:        "create-slash-command",
		Description: "Register a chat input command, guild scoped when guild_id is set",
		Requires:    []string{"application_id", "name", "description"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			body := map[string]any{"name": p.Name, "description": p.Description, "type": 1}
			if len(p.Options) > 0 {
				body["options"] = p.Options
			}
			return send(http.MethodPost, commandPath(p), body), nil
		},
		Expect: "id",
		Save:   saveAs("slash_command", byName),
	})

	Register(Action{
		Name:        "create-context-menu",
		Description: "Register a user (2) or message (3) context menu command",
		Requires:    []string{"application_id", "name"},
		TokenOnly:   true,
		Validate: func(p Params) error {
			if p.CommandType != 2 && p.CommandType != 3 {
				return fmt.Errorf("command_type must be 2 or 3, got %d", p.CommandType)
			}
			return nil
		},
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			return send(http.MethodPost, commandPath(p), map[string]any{"name": p.Name, "type": p.CommandType}), nil
		},
		Expect: "id",
		Save:   saveAs("context_menu", byName),
	})

	Register(Action{
		Name:        "add-role",
		Description: "Give a member a role",
		Requires:    []string{"guild_id", "user_id", "role_id"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			r := send(http.MethodPut, fmt.Sprintf("/guilds/%s/members/%s/roles/%s", p.GuildID, p.UserID, p.RoleID), nil)
			r.Reason = p.Reason
			return r, nil
		},
	})

	Register(Action{
		Name:        "remove-role",
		Description: "Take a role from a member",
		Requires:    []string{"guild_id", "user_id", "role_id"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			r := send(http.MethodDelete, fmt.Sprintf("/guilds/%s/members/%s/roles/%s", p.GuildID, p.UserID, p.RoleID), nil)
			r.Reason = p.Reason
			return r, nil
		},
	})

	Register(Action{
		Name:        "create-dm",
		Description: "Open a DM channel with a user",
		Requires:    []string{"user_id"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			return send(http.MethodPost, "/users/@me/channels", map[string]any{"recipient_id": p.UserID}), nil
		},
		Expect: "id",
		Save:   saveAs("dm_channel", func(p Params) string { return p.UserID }),
	})

	Register(Action{
		Name:        "create-stage",
		Description: "Start a stage instance",
		Requires:    []string{"channel_id", "topic"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			privacy := p.PrivacyLevel
			if privacy == 0 {
				privacy = 1
			}
			return send(http.MethodPost, "/stage-instances", map[string]any{
				"channel_id":    p.ChannelID,
				"topic":         p.Topic,
				"privacy_level": privacy,
			}), nil
		},
		Expect: "id",
		Save:   saveAs("stage", func(p Params) string { return p.Topic }),
	})

	Register(Action{
		Name:        "create-event",
		Description: "Schedule a guild event; external events need a location",
		Requires:    []string{"guild_id", "name", "description", "start_time"},
		TokenOnly:   true,
		Validate:    validateEvent,
		Build: func(ctx context.Context, c *Call, p Params) (transport.Request, error) {
			body := map[string]any{
				"name":                 p.Name,
				"description":          p.Description,
				"scheduled_start_time": p.StartTime,
				"entity_type":          p.EntityType,
				"privacy_level":        2,
			}
			if p.EndTime != "" {
				body["scheduled_end_time"] = p.EndTime
			}
			if p.EntityType == entityExternal {
				body["entity_metadata"] = map[string]any{"location": p.Location}
			} else {
				body["channel_id"] = p.ChannelID
			}
			switch {
			case p.ImageData != "":
				body["image"] = p.ImageData
			case p.ImageURL != "":
				img, err := dataURI(ctx, c, p.ImageURL)
				if err != nil {
					return transport.Request{}, fmt.Errorf("download cover image: %w", err)
				}
				body["image"] = img
			}
			return send(http.MethodPost, "/guilds/"+p.GuildID+"/scheduled-events", body), nil
		},
		Expect: "id",
		Save:   saveAs("event", byName),
	})

	Register(Action{
		Name:        "create-ban",
		Description: "Ban a user from a guild",
		Requires:    []string{"guild_id", "user_id"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			body := map[string]any{"delete_message_days": p.DeleteMessageDays}
			if p.Reason != "" {
				body["reason"] = p.Reason
			}
			r := send(http.MethodPut, fmt.Sprintf("/guilds/%s/bans/%s", p.GuildID, p.UserID), body)
			r.Reason = p.Reason
			return r, nil
		},
	})

	Register(Action{
		Name:        "get-pins",
		Description: "List pinned messages of a channel",
		Requires:    []string{"channel_id"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			return get("/channels/" + p.ChannelID + "/pins"), nil
		},
		Save: saveAs("pins", func(p Params) string { return p.ChannelID }),
	})

	Register(Action{
		Name:        "get-messages",
		Description: "Read recent messages of a channel",
		Requires:    []string{"channel_id"},
		TokenOnly:   true,
		Validate: func(p Params) error {
			if p.Limit < 1 || p.Limit > 100 {
				return fmt.Errorf("limit must be between 1 and 100, got %d", p.Limit)
			}
			return nil
		},
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			return get(fmt.Sprintf("/channels/%s/messages?limit=%d", p.ChannelID, p.Limit)), nil
		},
		Save: saveAs("messages", func(p Params) string { return p.ChannelID }),
	})

	Register(Action{
		Name:        "create-emoji",
		Description: "Upload a custom emoji from image_data or image_url",
		Requires:    []string{"guild_id", "name"},
		TokenOnly:   true,
		Validate: func(p Params) error {
			if p.ImageData == "" && p.ImageURL == "" {
				return errors.New("image_data or image_url is required")
			}
			return nil
		},
		Build: func(ctx context.Context, c *Call, p Params) (transport.Request, error) {
			img := p.ImageData
			if img == "" {
				var err error
				if img, err = dataURI(ctx, c, p.ImageURL); err != nil {
					return transport.Request{}, fmt.Errorf("download emoji image: %w", err)
				}
			}
			return send(http.MethodPost, "/guilds/"+p.GuildID+"/emojis", map[string]any{"name": p.Name, "image": img}), nil
		},
		Expect: "id",
		Save:   saveAs("emoji", byName),
	})

	Register(Action{
		Name:        "create-guild",
		Description: "Create a guild owned by the bot",
		Requires:    []string{"name"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			body := map[string]any{"name": p.Name}
			if p.Region != "" {
				body["region"] = p.Region
			}
			if p.ImageData != "" {
				body["icon"] = p.ImageData
			}
			return send(http.MethodPost, "/guilds", body), nil
		},
		Expect: "id",
		Save:   saveAs("guild", byName),
	})

	Register(Action{
		Name:        "create-sticker",
		Description: "Upload a guild sticker",
		Requires:    []string{"guild_id", "name", "description", "tags", "file_data"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			return send(http.MethodPost, "/guilds/"+p.GuildID+"/stickers", map[string]any{
				"name":        p.Name,
				"description": p.Description,
				"tags":        p.Tags,
				"file":        p.FileData,
			}), nil
		},
		Expect: "id",
		Save:   saveAs("sticker", byName),
	})

	Register(Action{
		Name:        "create-forum-thread",
		Description: "Post a new thread in a forum channel",
		Requires:    []string{"channel_id", "name"},
		TokenOnly:   true,
		Validate: func(p Params) error {
			if len(p.Message) == 0 && p.Content == "" {
				return errors.New("message or content is required")
			}
			return nil
		},
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			msg := p.Message
			if len(msg) == 0 {
				msg = map[string]any{"content": p.Content}
			}
			body := map[string]any{"name": p.Name, "message": msg}
			if len(p.AppliedTags) > 0 {
				body["applied_tags"] = p.AppliedTags
			}
			return send(http.MethodPost, "/channels/"+p.ChannelID+"/threads", body), nil
		},
		Expect: "id",
		Save:   saveAs("forum_thread", byName),
	})

	Register(Action{
		Name:        "create-automod-rule",
		Description: "Create an auto moderation rule; keywords fill a keyword trigger",
		Requires:    []string{"guild_id", "name"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			meta := p.TriggerMetadata
			if meta == nil {
				meta = map[string]any{}
				if len(p.Keywords) > 0 {
					meta["keyword_filter"] = p.Keywords
				}
			}
			actions := p.Actions
			if len(actions) == 0 {
				actions = []any{map[string]any{"type": 1}}
			}
			body := map[string]any{
				"name":             p.Name,
				"event_type":       p.EventType,
				"trigger_type":     p.TriggerType,
				"trigger_metadata": meta,
				"actions":          actions,
				"enabled":          p.Enabled,
			}
			if len(p.ExemptRoles) > 0 {
				body["exempt_roles"] = p.ExemptRoles
			}
			if len(p.ExemptChannels) > 0 {
				body["exempt_channels"] = p.ExemptChannels
			}
			return send(http.MethodPost, "/guilds/"+p.GuildID+"/auto-moderation/rules", body), nil
		},
		Expect: "id",
		Save:   saveAs("automod_rule", byName),
	})

	Register(Action{
		Name:        "create-template",
		Description: "Snapshot a guild as a template",
		Requires:    []string{"guild_id", "name"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			body := map[string]any{"name": p.Name}
			if p.Description != "" {
				body["description"] = p.Description
			}
			return send(http.MethodPost, "/guilds/"+p.GuildID+"/templates", body), nil
		},
		Expect: "code",
		Save:   saveAs("template", byName),
	})

	Register(Action{
		Name:        "set-command-permissions",
		Description: "Replace the permission overrides of a guild command",
		Requires:    []string{"application_id", "guild_id", "command_id", "permissions"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			return send(http.MethodPut, fmt.Sprintf("/applications/%s/guilds/%s/commands/%s/permissions",
				p.ApplicationID, p.GuildID, p.CommandID), map[string]any{"permissions": p.Permissions}), nil
		},
		Save: saveAs("command_permissions", func(p Params) string { return p.CommandID }),
	})

	Register(Action{
		Name:        "update-welcome-screen",
		Description: "Edit a guild's welcome screen",
		Requires:    []string{"guild_id"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			body := map[string]any{"enabled": p.Enabled}
			if len(p.WelcomeChannels) > 0 {
				body["welcome_channels"] = p.WelcomeChannels
			}
			if p.Description != "" {
				body["description"] = p.Description
			}
			return send(http.MethodPatch, "/guilds/"+p.GuildID+"/welcome-screen", body), nil
		},
		Save: saveAs("welcome_screen", func(p Params) string { return p.GuildID }),
	})

	Register(Action{
		Name:        "send-webhook-message",
		Description: "Post through a webhook using its token; no bot credential is sent",
		Requires:    []string{"webhook_id", "webhook_token"},
		Validate: func(p Params) error {
			if p.Content == "" && BuildEmbed(p) == nil && len(p.Components) == 0 {
				return errors.New("content, an embed or components are required")
			}
			return nil
		},
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			body := map[string]any{}
			if p.Content != "" {
				body["content"] = p.Content
			}
			if p.Username != "" {
				body["username"] = p.Username
			}
			if p.AvatarURL != "" {
				body["avatar_url"] = p.AvatarURL
			}
			if p.TTS {
				body["tts"] = true
			}
			if e := BuildEmbed(p); e != nil {
				body["embeds"] = []*Embed{e}
			}
			if len(p.Components) > 0 {
				body["components"] = p.Components
			}
			path := fmt.Sprintf("/webhooks/%s/%s", p.WebhookID, p.WebhookToken)
			if p.ThreadName != "" {
				path += "?thread_name=" + url.QueryEscape(p.ThreadName)
			}
			return transport.Request{Method: http.MethodPost, Path: path, Body: body, Anonymous: true}, nil
		},
	})

	Register(Action{
		Name:        "interaction-response",
		Description: "Answer an interaction; content becomes the message data",
		Requires:    []string{"interaction_id", "interaction_token"},
		TokenOnly:   true,
		Build: func(_ context.Context, _ *Call, p Params) (transport.Request, error) {
			body := map[string]any{"type": p.InteractionType}
			data := p.Data
			if len(data) == 0 && (p.Content != "" || len(p.Components) > 0) {
				data = map[string]any{}
				if p.Content != "" {
					data["content"] = p.Content
				}
				if len(p.Components) > 0 {
					data["components"] = p.Components
				}
			}
			if len(data) > 0 {
				body["data"] = data
			}
			return send(http.MethodPost, fmt.Sprintf("/interactions/%s/%s/callback", p.InteractionID, p.InteractionToken), body), nil
		},
	})
}
