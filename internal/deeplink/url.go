package deeplink

import (
	"fmt"
	"net/url"
	"strings"
)

// MessagesPath is the web app route that opens a conversation.
const MessagesPath = "/messages"

// URL builds the link that opens the conversation with username.
func URL(origin, username string) (string, error) {
	name, err := normalize(username)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("origin %q is not absolute", origin)
	}
	u.Path += MessagesPath
	u.RawQuery = url.Values{"user": {name}}.Encode()
	return u.String(), nil
}

// ParseURL extracts the username from a messages link. A bare username is
// accepted as is.
func ParseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "/") && !strings.Contains(raw, "?") {
		return normalize(raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	if !strings.HasSuffix(strings.TrimRight(u.Path, "/"), MessagesPath) {
		return "", fmt.Errorf("not a messages link: %s", raw)
	}
	return normalize(u.Query().Get("user"))
}
