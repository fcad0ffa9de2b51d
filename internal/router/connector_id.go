package router

import "strings"

// Connector id scheme prefixes, per the connector id convention: provider
// ids are "provider://<provider>/<name>"; the local in-process connector
// family uses "self://<service>".
const (
	schemeProvider = "provider://"
	schemeSelf     = "self://"
)

// ProviderConnectorID builds a "provider://<provider>/<name>" id.
func ProviderConnectorID(provider, name string) string {
	return schemeProvider + provider + "/" + name
}

// SelfConnectorID builds a "self://<service>" id.
func SelfConnectorID(service string) string {
	return schemeSelf + service
}

// IsFallbackConnectorID reports whether id names a provider's fallback
// connector, e.g. "provider://anthropic/fallback".
func IsFallbackConnectorID(id string) bool {
	return strings.HasSuffix(id, "/fallback")
}

// ProviderOf extracts the provider segment from a "provider://" id, or ""
// if id does not use that scheme.
func ProviderOf(id string) string {
	rest, ok := strings.CutPrefix(id, schemeProvider)
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}
