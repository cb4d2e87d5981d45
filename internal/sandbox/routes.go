package sandbox

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerReads(api *gin.RouterGroup) {
	api.GET("/oauth2/applications/@me", s.application)
	api.GET("/users/@me", s.currentUser)
	api.GET("/users/@me/guilds", s.guilds)
	api.GET("/guilds/:guild", s.guildDetail)
	api.GET("/guilds/:guild/channels", s.withGuild(s.channels))
	api.GET("/guilds/:guild/members", s.withGuild(s.members))
	api.GET("/guilds/:guild/roles", s.withGuild(s.roles))
	api.GET("/guilds/:guild/bans", s.withGuild(func(c *gin.Context, _ Guild) {
		apiError(c, http.StatusForbidden, "Missing Permissions", 50013)
	}))
	api.GET("/guilds/:guild/widget", s.withGuild(func(c *gin.Context, g Guild) {
		c.JSON(http.StatusOK, gin.H{"id": g.ID, "name": g.Name, "instant_invite": nil, "channels": []any{}, "members": []any{}, "presence_count": 0})
	}))
	api.GET("/guilds/:guild/audit-logs", s.withGuild(func(c *gin.Context, _ Guild) {
		c.JSON(http.StatusOK, gin.H{"audit_log_entries": []any{}, "users": []any{}, "webhooks": []any{}})
	}))
	api.GET("/guilds/:guild/welcome-screen", s.withGuild(func(c *gin.Context, _ Guild) {
		c.JSON(http.StatusOK, gin.H{"description": nil, "welcome_channels": []any{}})
	}))
	for _, p := range []string{"webhooks", "emojis", "stickers", "scheduled-events", "invites",
		"integrations", "templates", "auto-moderation/rules"} {
		api.GET("/guilds/:guild/"+p, s.withGuild(s.createdIn(strings.TrimSuffix(p, "/rules"))))
	}

	api.GET("/applications/:app/commands", s.withApp(s.commands))
	api.GET("/applications/:app/guilds/:guild/commands", s.withApp(s.commands))
	api.GET("/applications/:app/guilds/:guild/commands/permissions", s.withApp(emptyList))
	for _, p := range []string{"webhooks", "role-connections/metadata", "entitlements", "skus"} {
		api.GET("/applications/:app/"+p, s.withApp(emptyList))
	}
	api.GET("/voice/regions", func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{
			{"id": "us-east", "name": "US East", "optimal": true, "deprecated": false, "custom": false},
			{"id": "rotterdam", "name": "Rotterdam", "optimal": false, "deprecated": false, "custom": false},
		})
	})
	api.GET("/stage-instances", emptyList)
	api.GET("/gateway/bot", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"url":    "wss://gateway.sandbox.invalid",
			"shards": 1,
			"session_start_limit": gin.H{
				"total": 1000, "remaining": 999, "reset_after": 14400000, "max_concurrency": 1,
			},
		})
	})
	api.GET("/channels/:channel/messages", s.messages)
	api.GET("/channels/:channel/pins", s.withChannel(func(c *gin.Context, _ Channel) {
		c.JSON(http.StatusOK, []any{})
	}))
}

func (s *Server) registerWrites(api *gin.RouterGroup) {
	api.POST("/guilds", s.create("guilds", "id"))
	api.POST("/guilds/:guild/channels", s.withGuild(s.createIn("channels")))
	api.POST("/guilds/:guild/roles", s.withGuild(s.createIn("roles")))
	api.POST("/guilds/:guild/scheduled-events", s.withGuild(s.createIn("scheduled-events")))
	api.POST("/guilds/:guild/emojis", s.withGuild(s.createIn("emojis")))
	api.POST("/guilds/:guild/stickers", s.withGuild(s.createIn("stickers")))
	api.POST("/guilds/:guild/auto-moderation/rules", s.withGuild(s.createIn("auto-moderation")))
	api.POST("/guilds/:guild/templates", s.withGuild(func(c *gin.Context, g Guild) {
		s.create("templates", "code")(c)
	}))
	api.PATCH("/guilds/:guild/welcome-screen", s.withGuild(func(c *gin.Context, _ Guild) { s.create("welcome-screens", "")(c) }))
	api.PUT("/guilds/:guild/bans/:user", s.withGuild(guildNoContent))
	api.PUT("/guilds/:guild/members/:user/roles/:role", s.withGuild(guildNoContent))
	api.DELETE("/guilds/:guild/members/:user/roles/:role", s.withGuild(guildNoContent))

	api.POST("/channels/:channel/messages", s.withChannel(func(c *gin.Context, ch Channel) {
		s.create("messages", "id", "channel_id", ch.ID)(c)
	}))
	api.POST("/channels/:channel/webhooks", s.withChannel(func(c *gin.Context, ch Channel) {
		s.create("webhooks", "id", "channel_id", ch.ID, "token", "sandbox-webhook-token")(c)
	}))
	api.POST("/channels/:channel/invites", s.withChannel(func(c *gin.Context, ch Channel) {
		s.create("invites", "code", "channel_id", ch.ID)(c)
	}))
	api.POST("/channels/:channel/threads", s.withChannel(func(c *gin.Context, ch Channel) {
		s.create("threads", "id", "parent_id", ch.ID)(c)
	}))
	api.POST("/channels/:channel/messages/:message/threads", s.withChannel(func(c *gin.Context, ch Channel) {
		s.create("threads", "id", "parent_id", ch.ID)(c)
	}))
	api.PUT("/channels/:channel/messages/:message/reactions/:emoji/@me", s.withChannel(func(c *gin.Context, _ Channel) {
		s.remember("reactions", map[string]any{"emoji": c.Param("emoji"), "message_id": c.Param("message")})
		c.Status(http.StatusNoContent)
	}))
	api.PUT("/channels/:channel/pins/:message", s.withChannel(func(c *gin.Context, _ Channel) { noContent(c) }))

	api.POST("/applications/:app/commands", s.withApp(s.create("commands", "id")))
	api.POST("/applications/:app/guilds/:guild/commands", s.withApp(func(c *gin.Context) {
		s.create("commands", "id", "guild_id", c.Param("guild"))(c)
	}))
	api.PUT("/applications/:app/guilds/:guild/commands/:command/permissions", s.withApp(s.create("command-permissions", "")))

	api.POST("/users/@me/channels", s.create("dm-channels", "id", "type", 1))
	api.POST("/stage-instances", s.create("stage-instances", "id"))
	api.POST("/webhooks/:webhook/:token", s.create("webhook-messages", "id"))
	api.POST("/interactions/:interaction/:token/callback", noContent)
}

func emptyList(c *gin.Context) { c.JSON(http.StatusOK, []any{}) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }

func guildNoContent(c *gin.Context, _ Guild) { c.Status(http.StatusNoContent) }

func (s *Server) withGuild(h func(*gin.Context, Guild)) gin.HandlerFunc {
	return func(c *gin.Context) {
		g, ok := s.fixture.guild(c.Param("guild"))
		if !ok {
			apiError(c, http.StatusNotFound, "Unknown Guild", 10004)
			return
		}
		h(c, g)
	}
}

func (s *Server) withChannel(h func(*gin.Context, Channel)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, ok := s.fixture.channel(c.Param("channel"))
		if !ok {
			apiError(c, http.StatusNotFound, "Unknown Channel", 10003)
			return
		}
		h(c, ch)
	}
}

func (s *Server) withApp(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("app") != s.fixture.AppID {
			apiError(c, http.StatusNotFound, "Unknown Application", 10002)
			return
		}
		h(c)
	}
}

func (s *Server) application(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":                     s.fixture.AppID,
		"name":                   s.fixture.AppName,
		"icon":                   s.fixture.Icon,
		"description":            "Local sandbox application",
		"bot_public":             true,
		"bot_require_code_grant": false,
		"flags":                  0,
		"verify_key":             "sandbox",
		"redirect_uris":          []string{},
		"tags":                   []string{"sandbox"},
	})
}

func (s *Server) currentUser(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":            s.fixture.AppID,
		"username":      s.fixture.AppName,
		"discriminator": "0",
		"bot":           true,
		"avatar":        s.fixture.Icon,
	})
}

func (s *Server) guilds(c *gin.Context) {
	out := make([]gin.H, 0, len(s.fixture.Guilds))
	for _, g := range s.fixture.Guilds {
		out = append(out, gin.H{"id": g.ID, "name": g.Name, "owner": false, "permissions": "8"})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) guildDetail(c *gin.Context) {
	g, ok := s.fixture.guild(c.Param("guild"))
	if !ok {
		apiError(c, http.StatusNotFound, "Unknown Guild", 10004)
		return
	}
	body := gin.H{
		"id":       g.ID,
		"name":     g.Name,
		"owner_id": g.Members[0],
		"roles":    roleList(g),
		"features": []string{},
	}
	if c.Query("with_counts") == "true" {
		body["approximate_member_count"] = g.MemberCount
		body["approximate_presence_count"] = g.MemberCount / 2
	}
	c.JSON(http.StatusOK, body)
}

func roleList(g Guild) []gin.H {
	out := make([]gin.H, 0, len(g.Roles))
	for i, r := range g.Roles {
		out = append(out, gin.H{"id": r.ID, "name": r.Name, "position": i, "permissions": "0", "color": 0})
	}
	return out
}

func (s *Server) channels(c *gin.Context, g Guild) {
	out := make([]gin.H, 0, len(g.Channels))
	for i, ch := range g.Channels {
		out = append(out, gin.H{"id": ch.ID, "guild_id": g.ID, "name": ch.Name, "type": ch.Type, "position": i})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) members(c *gin.Context, g Guild) {
	out := make([]gin.H, 0, len(g.Members))
	for _, id := range g.Members {
		out = append(out, gin.H{"user": gin.H{"id": id, "username": "user-" + id[len(id)-3:]}, "roles": []string{}})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) roles(c *gin.Context, g Guild) {
	c.JSON(http.StatusOK, roleList(g))
}

func (s *Server) messages(c *gin.Context) {
	ch, ok := s.fixture.channel(c.Param("channel"))
	if !ok {
		apiError(c, http.StatusNotFound, "Unknown Channel", 10003)
		return
	}
	if ch.Type != ChannelText {
		apiError(c, http.StatusBadRequest, "Cannot execute action on this channel type", 50024)
		return
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]gin.H, 0, ch.Messages)
	for i := 0; i < ch.Messages; i++ {
		out = append(out, gin.H{
			"id":         fmt.Sprintf("%s%02d", ch.ID[:16], i),
			"channel_id": ch.ID,
			"content":    fmt.Sprintf("message %d", i+1),
			"timestamp":  base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			"author":     gin.H{"id": s.fixture.AppID, "bot": true},
		})
	}
	c.JSON(http.StatusOK, out)
}

// commands lists created commands; global ones carry no guild_id.
func (s *Server) commands(c *gin.Context) {
	guild := c.Param("guild")
	out := []map[string]any{}
	for _, r := range s.Created("commands") {
		if gid, _ := r["guild_id"].(string); gid == guild {
			out = append(out, r)
		}
	}
	c.JSON(http.StatusOK, out)
}

// createdIn lists what write requests added under kind.
func (s *Server) createdIn(kind string) func(*gin.Context, Guild) {
	return func(c *gin.Context, g Guild) {
		out := []map[string]any{}
		for _, r := range s.Created(kind) {
			if gid, _ := r["guild_id"].(string); gid == "" || gid == g.ID {
				out = append(out, r)
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

// createIn stores the request body under kind for the guild.
func (s *Server) createIn(kind string) func(*gin.Context, Guild) {
	return func(c *gin.Context, g Guild) {
		s.create(kind, "id", "guild_id", g.ID)(c)
	}
}

// create echoes the JSON body back with a generated key field and extra pairs.
// An empty key answers 200 without generating one.
func (s *Server) create(kind, key string, extra ...any) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := map[string]any{}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
				apiError(c, http.StatusBadRequest, "Invalid Form Body", 50035)
				return
			}
		}
		for i := 0; i+1 < len(extra); i += 2 {
			body[fmt.Sprint(extra[i])] = extra[i+1]
		}
		switch key {
		case "":
		case "code":
			id := s.newID()
			body["code"] = "sbx" + id[len(id)-6:]
		default:
			body[key] = s.newID()
		}
		s.remember(kind, body)
		status := http.StatusOK
		if key != "" {
			status = http.StatusCreated
		}
		c.JSON(status, body)
	}
}

func (s *Server) remember(kind string, v map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created[kind] = append(s.created[kind], v)
}
