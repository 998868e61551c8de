package gateway

import (
	"regexp"
	"strings"
)

var (
	keyValueRe = regexp.MustCompile(`([A-Za-z0-9_\-\.]+)=([^&\s"',;:]+)`)
	bearerRe   = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-\._~\+/]+=*`)
)

// Sanitize scrubs `key=value` fragments and bearer tokens from an error message,
// as well as any of the provided literal secrets.
func Sanitize(msg string, secrets ...string) string {
	for _, s := range secrets {
		if s != "" {
			msg = strings.ReplaceAll(msg, s, "***")
		}
	}
	msg = keyValueRe.ReplaceAllString(msg, "$1=***")
	msg = bearerRe.ReplaceAllString(msg, "${1}***")
	return msg
}

func sanitizeErr(err error, secrets ...string) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error(), secrets...)
}
