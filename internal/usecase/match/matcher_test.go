package match

import (
	"errors"
	"testing"
)

func TestNormalizeDomain(t *testing.T) {
	cases := []string{
		"example.com",
		"http://example.com",
		"https://example.com",
		"www.example.com",
		"https://www.example.com/",
		"HTTPS://WWW.Example.COM//",
		"  example.com/ ",
	}
	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			got := NormalizeDomain(in)
			if got != "example.com" {
				t.Fatalf("NormalizeDomain(%q) = %q", in, got)
			}
			if again := NormalizeDomain(got); again != got {
				t.Fatalf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestNormalizeKeepsPath(t *testing.T) {
	if got := NormalizeDomain("https://www.news.org/politics/"); got != "news.org/politics" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestNewDomainSetSplitsCells(t *testing.T) {
	set := NewDomainSet([]string{
		"https://a.com, www.b.com/",
		"",
		" , ",
		"a.com",
	})
	if set.Len() != 2 {
		t.Fatalf("expected 2 domains, got %d: %v", set.Len(), set.Domains())
	}
	if !set.Contains("http://www.B.com") {
		t.Fatal("b.com must be in set")
	}
}

func TestNewRejectsEmptySet(t *testing.T) {
	if _, err := New(NewDomainSet([]string{"", " ,"})); !errors.Is(err, ErrEmptyDomainSet) {
		t.Fatalf("expected ErrEmptyDomainSet, got %v", err)
	}
}

func TestLinksScenario(t *testing.T) {
	m, err := New(NewDomainSet([]string{"example.com"}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	content := `<a href="https://example.com/a">x</a><a href="https://other.com/b">y</a>`
	stats := m.Links(content)
	if stats.All != 2 || stats.Matched != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.URLs) != 1 || stats.URLs[0] != "https://example.com/a" {
		t.Fatalf("unexpected urls %v", stats.URLs)
	}
	if !m.IsMatch(content) {
		t.Fatal("content must match")
	}
}

func TestMatchURL(t *testing.T) {
	m, err := New(NewDomainSet([]string{"example.com", "news.org/politics"}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.com", true},
		{"http://WWW.EXAMPLE.COM/path?q=1", true},
		{"https://sub.example.com/x", true},
		{"https://example.com:8443/x", true},
		{"https://notexample.com/x", false},
		{"https://example.com.evil.net/x", false},
		{"https://news.org/politics/today", true},
		{"https://news.org/politicsy", false},
		{"https://news.org/sport", false},
		{"not a url", false},
	}
	for _, tc := range cases {
		if got := m.MatchURL(tc.url); got != tc.want {
			t.Errorf("MatchURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestLinksCountsEveryHrefButDistinctMatches(t *testing.T) {
	m, err := New(NewDomainSet([]string{"example.com"}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	content := `<a href="https://example.com/a">1</a> <a href="https://example.com/a">2</a>` +
		` <a href="http://example.com/b">3</a> plain https://example.com/c text`
	stats := m.Links(content)
	if stats.All != 3 {
		t.Fatalf("expected 3 hrefs, got %d", stats.All)
	}
	if stats.Matched != 2 {
		t.Fatalf("expected 2 distinct matches, got %d", stats.Matched)
	}
	if got := m.FindAll(content); len(got) != 2 {
		t.Fatalf("unexpected FindAll %v", got)
	}
}
