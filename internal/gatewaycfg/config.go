// ABOUTME: Generates the declarative configuration document for a gateway container
// ABOUTME: Pure construction from port, token, providers, channel tokens, and model overrides

package gatewaycfg

import (
	"time"

	"github.com/2389/clawhuddle/internal/credentials"
)

// LastTouchedVersion is the gateway release the document shape targets.
const LastTouchedVersion = "2026.2.17"

// PluginAllowList is every channel plugin the runtime image ships. All of
// them are enabled in every gateway; the managed channels are a subset.
var PluginAllowList = []string{
	"telegram", "whatsapp", "discord", "slack", "signal", "imessage", "irc",
	"googlechat", "msteams", "mattermost", "nostr", "matrix", "line", "feishu",
	"twitch", "tlon", "zalo", "zalouser",
}

// ManagedChannels are the channels whose blocks the platform owns.
var ManagedChannels = []string{"telegram", "discord", "slack"}

// IsManagedChannel reports whether ch is a channel members can configure.
func IsManagedChannel(ch string) bool {
	for _, c := range ManagedChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// TrustedProxies covers private ranges plus the CDN edge ranges the reverse
// proxy sits behind.
var TrustedProxies = []string{
	"172.16.0.0/12",
	"10.0.0.0/8",
	"192.168.0.0/16",
	"173.245.48.0/20",
	"103.21.244.0/22",
	"103.22.200.0/22",
	"103.31.4.0/22",
	"141.101.64.0/18",
	"108.162.192.0/18",
	"190.93.240.0/20",
	"188.114.96.0/20",
	"197.234.240.0/22",
	"198.41.128.0/17",
	"162.158.0.0/15",
	"104.16.0.0/13",
	"104.24.0.0/14",
	"172.64.0.0/13",
	"131.0.72.0/22",
}

// Options are the inputs to Generate and Merge.
type Options struct {
	Port           int
	Token          string
	Providers      []string          // active provider IDs, primary first
	ModelOverrides map[string]string // provider -> model
	ChannelTokens  map[string]string // channel -> bot token
	Now            time.Time         // zero uses time.Now
}

// Document is the gateway configuration file. Optional sections are omitted
// when empty.
type Document struct {
	Meta      Meta               `json:"meta"`
	Commands  Commands           `json:"commands"`
	Gateway   GatewaySection     `json:"gateway"`
	ControlUI ControlUI          `json:"controlUi"`
	Plugins   Plugins            `json:"plugins"`
	Agents    *Agents            `json:"agents,omitempty"`
	Channels  map[string]Channel `json:"channels,omitempty"`
}

type Meta struct {
	LastTouchedVersion string `json:"lastTouchedVersion"`
	LastTouchedAt      string `json:"lastTouchedAt"`
}

type Commands struct {
	Native       string `json:"native"`
	NativeSkills string `json:"nativeSkills"`
	Config       bool   `json:"config"`
}

type GatewaySection struct {
	Mode           string   `json:"mode"`
	Port           int      `json:"port"`
	Bind           string   `json:"bind"`
	Auth           Auth     `json:"auth"`
	TrustedProxies []string `json:"trustedProxies,omitempty"`
}

type Auth struct {
	Mode  string `json:"mode"`
	Token string `json:"token"`
}

type ControlUI struct {
	AllowInsecureAuth bool `json:"allowInsecureAuth"`
}

type Plugins struct {
	Entries map[string]PluginEntry `json:"entries"`
}

type PluginEntry struct {
	Enabled bool `json:"enabled"`
}

type Agents struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Model ModelSelection `json:"model"`
}

// ModelSelection names the primary model and ordered fallbacks.
type ModelSelection struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// Channel is a messaging platform block.
type Channel struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	DMPolicy string `json:"dmPolicy"`
}

// Generate builds a fresh configuration document.
func Generate(opts Options) *Document {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	doc := &Document{
		Meta: Meta{
			LastTouchedVersion: LastTouchedVersion,
			LastTouchedAt:      now.UTC().Format("2006-01-02T15:04:05.000Z"),
		},
		Commands: Commands{Native: "auto", NativeSkills: "auto", Config: true},
		Gateway: GatewaySection{
			Mode: "local",
			Port: opts.Port,
			Bind: "lan",
			Auth: Auth{Mode: "token", Token: opts.Token},
			TrustedProxies: append([]string(nil), TrustedProxies...),
		},
		ControlUI: ControlUI{AllowInsecureAuth: true},
		Plugins:   Plugins{Entries: pluginEntries()},
		Agents:    agents(opts),
		Channels:  channels(opts.ChannelTokens),
	}
	return doc
}

func pluginEntries() map[string]PluginEntry {
	entries := make(map[string]PluginEntry, len(PluginAllowList))
	for _, id := range PluginAllowList {
		entries[id] = PluginEntry{Enabled: true}
	}
	return entries
}

// agents returns nil when no provider is active; callers must treat that as
// a precondition failure.
func agents(opts Options) *Agents {
	if len(opts.Providers) == 0 {
		return nil
	}
	sel := ModelSelection{Primary: credentials.ResolveModel(opts.Providers[0], opts.ModelOverrides)}
	for _, p := range opts.Providers[1:] {
		if m := credentials.ResolveModel(p, opts.ModelOverrides); m != "" {
			sel.Fallbacks = append(sel.Fallbacks, m)
		}
	}
	return &Agents{Defaults: AgentDefaults{Model: sel}}
}

func channels(tokens map[string]string) map[string]Channel {
	var out map[string]Channel
	for _, ch := range ManagedChannels {
		tok := tokens[ch]
		if tok == "" {
			continue
		}
		if out == nil {
			out = make(map[string]Channel)
		}
		out[ch] = Channel{Enabled: true, BotToken: tok, DMPolicy: "pairing"}
	}
	return out
}
