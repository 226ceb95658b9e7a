package mastodon

import (
	"net/url"
	"strings"
)

// NextParams возвращает параметры запроса из ссылки rel="next" заголовка Link
// (RFC 5988). Если ссылки нет, возвращает nil.
func NextParams(header string) url.Values {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start < 0 || end <= start {
			continue
		}
		if !hasRel(part[end+1:], "next") {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(part[start+1 : end]))
		if err != nil {
			return nil
		}
		return u.Query()
	}
	return nil
}

func hasRel(attrs, want string) bool {
	for _, attr := range strings.Split(attrs, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(attr), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
			continue
		}
		for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(val), `"`)) {
			if strings.EqualFold(rel, want) {
				return true
			}
		}
	}
	return false
}
