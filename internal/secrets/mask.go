// Package secrets keeps credentials out of log lines. Connection strings
// and tokens flow through startup logging and error reports, everything
// printed goes through a mask first.
package secrets

import "strings"

// Mask shortens a secret to a recognizable prefix. Values of eight bytes
// or fewer are fully hidden, a prefix of those would leak most of the
// secret.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..."
}

// MaskURL hides the password in a connection URL, postgres and redis DSNs
// mostly. The parsing is by hand: url.Parse rejects the unescaped
// passwords that show up in real DATABASE_URL values, and a masking helper
// that errors on exactly the secrets it should hide is useless.
func MaskURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	schemeEnd := strings.Index(rawURL, "://")
	if schemeEnd == -1 {
		return rawURL
	}
	credStart := schemeEnd + 3

	// The password itself may contain @, split on the last one.
	atIdx := strings.LastIndex(rawURL, "@")
	if atIdx == -1 || atIdx < credStart {
		return rawURL
	}

	colonIdx := strings.Index(rawURL[credStart:atIdx], ":")
	if colonIdx == -1 {
		// Username only, nothing to hide.
		return rawURL
	}
	return rawURL[:credStart+colonIdx+1] + "***" + rawURL[atIdx:]
}
