package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ID — идентификатор объекта Mastodon. В дампах встречается и строкой, и числом,
// поэтому декодируется из обоих вариантов и всегда хранится строкой.
type ID string

// UnmarshalJSON принимает строку, число или null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Account описывает аккаунт Mastodon в том виде, в каком его отдаёт API.
type Account struct {
	ID             ID     `json:"id"`
	Username       string `json:"username"`
	Acct           string `json:"acct"`
	URL            string `json:"url"`
	DisplayName    string `json:"display_name,omitempty"`
	Bot            bool   `json:"bot,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	FollowersCount int64  `json:"followers_count,omitempty"`
	FollowingCount int64  `json:"following_count,omitempty"`
	StatusesCount  int64  `json:"statuses_count,omitempty"`
}

// PostRecord — одна строка архива. Content и Account остаются указателями,
// чтобы отличать отсутствующее поле от пустого.
type PostRecord struct {
	ID      ID       `json:"id"`
	URL     string   `json:"url"`
	URI     string   `json:"uri"`
	Content *string  `json:"content"`
	Account *Account `json:"account"`
}

// HasContent сообщает, пригоден ли пост для сопоставления с доменами.
func (p PostRecord) HasContent() bool {
	return p.Content != nil && *p.Content != "" && p.Account != nil
}

// MatchResult — пост с посчитанными ссылками.
type MatchResult struct {
	Post             PostRecord
	Raw              []byte
	SourceFile       string
	SourceInstance   string
	AllLinkCount     int
	MatchedLinkCount int
	Matched          bool
}

// Record переводит результат в запись первого этапа.
func (m MatchResult) Record() MatchedPost {
	rec := MatchedPost{
		PostID:           m.Post.ID,
		PostURL:          m.Post.URL,
		PostURI:          m.Post.URI,
		SourceFile:       m.SourceFile,
		SourceInstance:   m.SourceInstance,
		AllLinkCount:     m.AllLinkCount,
		MatchedLinkCount: m.MatchedLinkCount,
	}
	if m.Post.Account != nil {
		rec.Account = *m.Post.Account
		rec.AccountURL = m.Post.Account.URL
		if _, username, err := ParseAccountURL(m.Post.Account.URL); err == nil {
			rec.Username = username
		}
	}
	return rec
}

// MatchedPost — запись файла matched_posts.ndjson.
type MatchedPost struct {
	PostID           ID      `json:"post_id"`
	PostURL          string  `json:"post_url"`
	PostURI          string  `json:"post_uri"`
	AccountURL       string  `json:"acc_url"`
	Username         string  `json:"username"`
	Account          Account `json:"account"`
	SourceFile       string  `json:"source_file"`
	SourceInstance   string  `json:"source_instance"`
	AllLinkCount     int     `json:"all_link_count"`
	MatchedLinkCount int     `json:"matched_link_count"`
}

// AuthorKey — каноничный ключ аккаунта: инстанс и id на домашнем инстансе.
type AuthorKey struct {
	Instance      string `json:"instance"`
	HomeAccountID ID     `json:"home_acc_id"`
}

func (k AuthorKey) String() string {
	return k.Instance + "/" + string(k.HomeAccountID)
}

// ResolvedPost — пост, привязанный к домашнему аккаунту автора.
type ResolvedPost struct {
	AuthorKey
	PostID     ID      `json:"post_id"`
	Username   string  `json:"username"`
	Acct       string  `json:"acct"`
	AccountURL string  `json:"acc_url"`
	Account    Account `json:"account"`
	SourceFile string  `json:"source_file"`
}

// ResolvedAccount — уникальный аккаунт после дедупликации.
type ResolvedAccount struct {
	AuthorKey
	Username   string  `json:"username"`
	Acct       string  `json:"acct"`
	AccountURL string  `json:"acc_url"`
	Account    Account `json:"account"`
	PostCount  int     `json:"post_count"`
}

// AccountFollowers — аккаунт вместе с выгруженным списком подписчиков.
type AccountFollowers struct {
	ResolvedAccount
	Followers           []Account `json:"followers"`
	TotalFollowersCount int       `json:"total_followers_count"`
	Complete            bool      `json:"followers_complete"`
	CollectedAt         time.Time `json:"collected_at"`
}

// ParseAccountURL извлекает инстанс и имя пользователя из URL профиля
// (https://mastodon.social/@alice → mastodon.social, alice).
func ParseAccountURL(raw string) (instance, username string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("%w: empty account url", ErrInvalidAccount)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	instance = strings.ToLower(u.Host)
	if instance == "" {
		return "", "", fmt.Errorf("%w: no host in %q", ErrInvalidAccount, raw)
	}
	path := strings.TrimRight(u.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}
	username = strings.TrimPrefix(path, "@")
	if username == "" {
		return "", "", fmt.Errorf("%w: no username in %q", ErrInvalidAccount, raw)
	}
	return instance, username, nil
}
