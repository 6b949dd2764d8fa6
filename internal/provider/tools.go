package provider

import (
	"strings"
)

// Hosted tools are gateway builtins whose internal names carry an "@"
// prefix. Provider APIs reject "@" in function names, so adapters translate
// through this bidirectional map on the way out and back.
var hostedToolNativeNames = map[string]string{
	"@search":        "search_documents",
	"@browser":       "fetch_url",
	"@python":        "run_python",
	"@calculator":    "calculate",
	"@current-datetime": "current_datetime",
}

var nativeToHostedNames = func() map[string]string {
	out := make(map[string]string, len(hostedToolNativeNames))
	for hosted, native := range hostedToolNativeNames {
		out[native] = hosted
	}
	return out
}()

// IsHostedTool reports whether the internal tool name is a gateway builtin.
func IsHostedTool(name string) bool { return strings.HasPrefix(name, "@") }

// NativeToolName maps an internal tool name to the provider-facing one.
// Unknown hosted names get the prefix stripped so the request stays valid.
func NativeToolName(name string) string {
	if native, ok := hostedToolNativeNames[name]; ok {
		return native
	}
	if IsHostedTool(name) {
		return strings.ReplaceAll(strings.TrimPrefix(name, "@"), "-", "_")
	}
	return name
}

// InternalToolName maps a provider-reported tool name back to the internal
// one, restoring the hosted "@" prefix when the name is a known builtin.
func InternalToolName(name string) string {
	if hosted, ok := nativeToHostedNames[name]; ok {
		return hosted
	}
	return name
}
