package mastodon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mastodon-follower-network/internal/domain"
)

func testClient() *Client {
	return New(Options{
		Timeout:      2 * time.Second,
		Retries:      3,
		RetryWait:    time.Millisecond,
		RetryMaxWait: 10 * time.Millisecond,
	}, zerolog.Nop())
}

func TestNextParams(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"next and prev", `<https://m.social/api/v1/accounts/1/followers?limit=40&max_id=99>; rel="next", <https://m.social/api/v1/accounts/1/followers?limit=40&since_id=120>; rel="prev"`, "limit=40&max_id=99"},
		{"prev only", `<https://m.social/api/v1/accounts/1/followers?since_id=1>; rel="prev"`, ""},
		{"unquoted rel", `<https://m.social/x?max_id=5>; rel=next`, "max_id=5"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextParams(tc.header)
			if tc.want == "" {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if got.Encode() != tc.want {
				t.Fatalf("got %q want %q", got.Encode(), tc.want)
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	if got := BaseURL("mastodon.social"); got != "https://mastodon.social" {
		t.Fatalf("unexpected %q", got)
	}
	if got := BaseURL("http://127.0.0.1:8080/"); got != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestWaitFromHeaders(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("Retry-After", "7")
	if got := waitFromHeaders(h, now); got != 7*time.Second {
		t.Fatalf("retry-after: got %s", got)
	}
	h = http.Header{}
	h.Set("X-RateLimit-Reset", "2024-05-01T12:00:30.000Z")
	if got := waitFromHeaders(h, now); got != 30*time.Second {
		t.Fatalf("ratelimit reset: got %s", got)
	}
	if got := waitFromHeaders(http.Header{}, now); got != 0 {
		t.Fatalf("empty headers: got %s", got)
	}
}

func TestLookupAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/lookup" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("acct") {
		case "alice":
			_, _ = w.Write([]byte(`{"id":"109","username":"alice","acct":"alice","url":"https://b.social/@alice","followers_count":12}`))
		case "broken":
			_, _ = w.Write([]byte(`{"id":`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"Record not found"}`))
		}
	}))
	defer srv.Close()

	c := testClient()
	acc, err := c.LookupAccount(context.Background(), srv.URL, "alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if acc.ID != "109" || acc.FollowersCount != 12 {
		t.Fatalf("unexpected account %+v", acc)
	}

	if _, err := c.LookupAccount(context.Background(), srv.URL, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.LookupAccount(context.Background(), srv.URL, "broken"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFollowersPageRetries(t *testing.T) {
	cases := []struct {
		name      string
		failures  []int
		wantErr   bool
		wantCalls int32
	}{
		{"rate limited then ok", []int{http.StatusTooManyRequests}, false, 2},
		{"server error retried", []int{http.StatusInternalServerError, http.StatusBadGateway}, false, 3},
		{"not found is terminal", []int{http.StatusNotFound}, true, 1},
		{"retries exhausted", []int{500, 500, 500, 500, 500}, true, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1))
				if n <= len(tc.failures) {
					if tc.failures[n-1] == http.StatusTooManyRequests {
						w.Header().Set("Retry-After", "1")
					}
					w.WriteHeader(tc.failures[n-1])
					return
				}
				w.Header().Set("Link", `<`+"http://"+r.Host+r.URL.Path+`?limit=2&max_id=5>; rel="next"`)
				_, _ = w.Write([]byte(`[{"id":"1","username":"a"},{"id":2,"username":"b"}]`))
			}))
			defer srv.Close()

			page, err := testClient().FollowersPage(context.Background(), srv.URL, "7", url.Values{"limit": {"2"}})
			if calls.Load() != tc.wantCalls {
				t.Fatalf("expected %d calls, got %d", tc.wantCalls, calls.Load())
			}
			if tc.wantErr {
				var apiErr *domain.APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("expected APIError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("followers: %v", err)
			}
			if len(page.Accounts) != 2 || page.Accounts[1].ID != "2" {
				t.Fatalf("unexpected page %+v", page.Accounts)
			}
			if page.Next.Get("max_id") != "5" {
				t.Fatalf("unexpected next %v", page.Next)
			}
		})
	}
}
