package sandbox

import (
	"encoding/base64"
	"fmt"
)

// Channel types used by the fixture.
const (
	ChannelText  = 0
	ChannelVoice = 2
)

type Channel struct {
	ID       string
	Name     string
	Type     int
	Messages int
}

type Role struct {
	ID   string
	Name string
}

type Guild struct {
	ID          string
	Name        string
	MemberCount int
	Members     []string
	Channels    []Channel
	Roles       []Role
}

// Fixture is the world the sandbox serves.
type Fixture struct {
	AppID   string
	AppName string
	Icon    string
	Guilds  []Guild
}

// NewFixture seeds guilds with the given number of text channels and roles each.
// Ids are deterministic.
func NewFixture(guilds, channels, roles int) Fixture {
	f := Fixture{AppID: "100000000000000001", AppName: "Sandbox Bot", Icon: "a1b2c3"}
	for g := 1; g <= guilds; g++ {
		guild := Guild{
			ID:          fmt.Sprintf("2000000000000000%02d", g),
			Name:        fmt.Sprintf("Sandbox Guild %d", g),
			MemberCount: 10 * g,
			Members:     []string{"300000000000000001", fmt.Sprintf("3000000000000001%02d", g)},
		}
		for c := 1; c <= channels; c++ {
			guild.Channels = append(guild.Channels, Channel{
				ID:       fmt.Sprintf("4000000000000%02d%03d", g, c),
				Name:     fmt.Sprintf("channel-%d", c),
				Type:     ChannelText,
				Messages: 2,
			})
		}
		for r := 1; r <= roles; r++ {
			name := fmt.Sprintf("role-%d", r)
			if r == 1 {
				name = "@everyone"
			}
			guild.Roles = append(guild.Roles, Role{ID: fmt.Sprintf("5000000000000%02d%03d", g, r), Name: name})
		}
		f.Guilds = append(f.Guilds, guild)
	}
	return f
}

// DefaultFixture is two guilds with three channels and one role each.
func DefaultFixture() Fixture {
	return NewFixture(2, 3, 1)
}

// Token returns a bot-token shaped credential whose first segment encodes the app id.
func (f Fixture) Token(secret string) string {
	return base64.RawStdEncoding.EncodeToString([]byte(f.AppID)) + ".sandbox." + secret
}

func (f Fixture) guild(id string) (Guild, bool) {
	for _, g := range f.Guilds {
		if g.ID == id {
			return g, true
		}
	}
	return Guild{}, false
}

func (f Fixture) channel(id string) (Channel, bool) {
	for _, g := range f.Guilds {
		for _, c := range g.Channels {
			if c.ID == id {
				return c, true
			}
		}
	}
	return Channel{}, false
}
