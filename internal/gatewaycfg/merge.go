// ABOUTME: Merges platform-managed subtrees into an existing gateway config document
// ABOUTME: Keys the platform does not own are preserved untouched

package gatewaycfg

import (
	"encoding/json"
	"fmt"
)

// Merge overlays the subtrees the platform owns onto existing and returns a
// new document. existing is not modified. Any input, including nil, yields a
// valid document.
//
// Managed: meta, gateway.{mode,port,bind,auth,trustedProxies},
// controlUi.allowInsecureAuth, plugins.entries for the allow-list,
// agents.defaults.model, and channels for ManagedChannels. Model defaults are
// removed when opts has no providers; managed channels without a token are
// removed.
func Merge(existing map[string]any, opts Options) map[string]any {
	gen := Generate(opts)

	out := make(map[string]any, len(existing)+4)
	for k, v := range existing {
		out[k] = v
	}

	out["meta"] = toValue(gen.Meta)
	if _, ok := out["commands"].(map[string]any); !ok {
		out["commands"] = toValue(gen.Commands)
	}

	gw := childMap(out, "gateway")
	gw["mode"] = gen.Gateway.Mode
	gw["port"] = toValue(gen.Gateway.Port)
	gw["bind"] = gen.Gateway.Bind
	gw["auth"] = toValue(gen.Gateway.Auth)
	gw["trustedProxies"] = toValue(gen.Gateway.TrustedProxies)

	childMap(out, "controlUi")["allowInsecureAuth"] = gen.ControlUI.AllowInsecureAuth

	entries := childMap(childMap(out, "plugins"), "entries")
	for _, id := range PluginAllowList {
		entries[id] = toValue(gen.Plugins.Entries[id])
	}

	mergeAgents(out, gen.Agents)
	mergeChannels(out, gen.Channels)

	return out
}

func mergeAgents(out map[string]any, agents *Agents) {
	if agents != nil {
		defaults := childMap(childMap(out, "agents"), "defaults")
		defaults["model"] = toValue(agents.Defaults.Model)
		return
	}

	a, ok := out["agents"].(map[string]any)
	if !ok {
		return
	}
	a = childMap(out, "agents")
	if _, ok := a["defaults"].(map[string]any); ok {
		d := childMap(a, "defaults")
		delete(d, "model")
		if len(d) == 0 {
			delete(a, "defaults")
		}
	}
	if len(a) == 0 {
		delete(out, "agents")
	}
}

func mergeChannels(out map[string]any, channels map[string]Channel) {
	_, existed := out["channels"].(map[string]any)
	if !existed && len(channels) == 0 {
		return
	}
	ch := childMap(out, "channels")
	for _, id := range ManagedChannels {
		if c, ok := channels[id]; ok {
			ch[id] = toValue(c)
		} else {
			delete(ch, id)
		}
	}
	if len(ch) == 0 {
		delete(out, "channels")
	}
}

// MergeJSON merges into a serialized document. Empty input generates a fresh one.
func MergeJSON(existing []byte, opts Options) ([]byte, error) {
	if len(existing) == 0 {
		return Marshal(Generate(opts))
	}
	var doc map[string]any
	if err := json.Unmarshal(existing, &doc); err != nil {
		return nil, fmt.Errorf("parsing existing gateway config: %w", err)
	}
	return Marshal(Merge(doc, opts))
}

// Marshal renders a document the way the gateway writes it: two-space indent.
func Marshal(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding gateway config: %w", err)
	}
	return append(b, '\n'), nil
}

// childMap replaces parent[key] with a copy of its map value (or a new map)
// and returns the copy, so writes never reach the caller's input.
func childMap(parent map[string]any, key string) map[string]any {
	src, _ := parent[key].(map[string]any)
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	parent[key] = dst
	return dst
}

// toValue converts a typed section into the generic form produced by
// json.Unmarshal, so merged documents compare equal to parsed ones.
func toValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("gatewaycfg: encoding %T: %v", v, err))
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("gatewaycfg: decoding %T: %v", v, err))
	}
	return out
}
