package match

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ErrEmptyDomainSet возвращается, если после нормализации не осталось ни одного домена.
var ErrEmptyDomainSet = errors.New("domain set is empty")

var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

// NormalizeDomain приводит строку к виду "host[/path]": без схемы, www. и завершающего слэша.
// Повторный вызов результата не меняет.
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	for {
		prev := s
		s = strings.TrimPrefix(s, "https://")
		s = strings.TrimPrefix(s, "http://")
		s = strings.TrimPrefix(s, "www.")
		s = strings.TrimRight(s, "/")
		s = strings.TrimSpace(s)
		if s == prev {
			return s
		}
	}
}

// SplitDomains разбивает ячейку списка, в которой несколько адресов перечислены через запятую.
func SplitDomains(cell string) []string {
	parts := strings.Split(cell, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if d := NormalizeDomain(p); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// DomainSet — неизменяемое множество нормализованных доменов.
type DomainSet struct {
	set map[string]struct{}
}

// NewDomainSet строит множество из сырых ячеек списка.
func NewDomainSet(cells []string) DomainSet {
	set := make(map[string]struct{})
	for _, cell := range cells {
		for _, d := range SplitDomains(cell) {
			set[d] = struct{}{}
		}
	}
	return DomainSet{set: set}
}

// Contains проверяет принадлежность с учётом нормализации.
func (d DomainSet) Contains(domain string) bool {
	_, ok := d.set[NormalizeDomain(domain)]
	return ok
}

// Len возвращает размер множества.
func (d DomainSet) Len() int { return len(d.set) }

// Domains возвращает домены: сначала длинные, затем по алфавиту.
func (d DomainSet) Domains() []string {
	out := make([]string, 0, len(d.set))
	for k := range d.set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// LinkStats — ссылки поста.
type LinkStats struct {
	All     int
	Matched int
	URLs    []string
}

// Matcher проверяет текст и ссылки по одному скомпилированному выражению.
type Matcher struct {
	set  DomainSet
	text *regexp.Regexp
	url  *regexp.Regexp
}

// New компилирует выражения для множества доменов.
func New(set DomainSet) (*Matcher, error) {
	if set.Len() == 0 {
		return nil, ErrEmptyDomainSet
	}
	domains := set.Domains()
	escaped := make([]string, len(domains))
	for i, d := range domains {
		escaped[i] = regexp.QuoteMeta(d)
	}
	alts := strings.Join(escaped, "|")

	text, err := regexp.Compile(`(?i)\b(?:` + alts + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("compile domain pattern: %w", err)
	}
	// поддомены совпадают, соседние домены вроде notexample.com нет
	u, err := regexp.Compile(`^(?:[a-z0-9-]+\.)*(?:` + alts + `)(?:/|$)`)
	if err != nil {
		return nil, fmt.Errorf("compile url pattern: %w", err)
	}
	return &Matcher{set: set, text: text, url: u}, nil
}

// Set возвращает множество доменов матчера.
func (m *Matcher) Set() DomainSet { return m.set }

// IsMatch сообщает, упоминается ли в тексте хотя бы один домен.
func (m *Matcher) IsMatch(text string) bool {
	return m.text.MatchString(text)
}

// FindAll возвращает ссылки из href-атрибутов текста, указывающие на домены множества.
func (m *Matcher) FindAll(text string) []string {
	return m.Links(text).URLs
}

// MatchURL проверяет, указывает ли URL на домен множества или его поддомен.
func (m *Matcher) MatchURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return m.url.MatchString(host + strings.ToLower(u.Path))
}

// Links считает все href-ссылки текста и различные ссылки на домены множества.
func (m *Matcher) Links(content string) LinkStats {
	var stats LinkStats
	seen := make(map[string]struct{})
	for _, sm := range hrefPattern.FindAllStringSubmatch(content, -1) {
		stats.All++
		link := sm[1]
		if !m.MatchURL(link) {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		stats.URLs = append(stats.URLs, link)
	}
	stats.Matched = len(stats.URLs)
	return stats
}
