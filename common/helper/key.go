package helper

const (
	// RequestIdKey stores the gin context key used to persist the current request identifier.
	RequestIdKey = "X-Polygate-Request-Id"
)

// MaskAPIKey returns a masked version of a secret for safe logging and API
// responses. It shows the first 6 and last 4 characters with "..." between;
// short values collapse to "***" entirely.
func MaskAPIKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:6] + "..." + key[len(key)-4:]
}
