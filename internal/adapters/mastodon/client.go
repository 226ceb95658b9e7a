package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/metrics"
)

const component = "mastodon"

// Options настраивает HTTP-клиент API инстансов.
type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	UserAgent    string
	// RPS ограничивает запросы к одному инстансу, 0 отключает ограничение.
	RPS float64
}

// Client ходит в публичное REST API Mastodon.
// Повторяет запросы при сетевых ошибках, 5xx и 429; остальные 4xx окончательны.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
	rps  float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New создаёт клиент.
func New(opts Options, logger zerolog.Logger) *Client {
	c := &Client{log: logger, rps: opts.RPS, limiters: make(map[string]*rate.Limiter)}

	httpClient := resty.New()
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetHeader("Accept", "application/json")
	if opts.UserAgent != "" {
		httpClient.SetHeader("User-Agent", opts.UserAgent)
	}
	httpClient.SetRetryCount(opts.Retries)
	httpClient.SetRetryWaitTime(opts.RetryWait)
	httpClient.SetRetryMaxWaitTime(opts.RetryMaxWait)
	httpClient.AddRetryCondition(shouldRetry)
	httpClient.SetRetryAfter(retryAfter)
	httpClient.AddRetryHook(func(r *resty.Response, err error) {
		reason := "network"
		if err == nil && r != nil {
			reason = strconv.Itoa(r.StatusCode())
		}
		metrics.APIRetries.WithLabelValues(reason).Inc()
		ev := c.log.Debug().Str("reason", reason)
		if r != nil && r.Request != nil {
			ev = ev.Str("url", r.Request.URL).Int("attempt", r.Request.Attempt)
		}
		ev.Msg("mastodon: повтор запроса")
	})
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return c.wait(req.Context(), req.URL)
	})
	c.http = httpClient
	return c
}

func shouldRetry(r *resty.Response, err error) bool {
	if r != nil && r.Request != nil && r.Request.Context().Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// retryAfter учитывает Retry-After и X-RateLimit-Reset. При 0 resty берёт экспоненциальную паузу.
func retryAfter(_ *resty.Client, r *resty.Response) (time.Duration, error) {
	if r == nil || r.StatusCode() != http.StatusTooManyRequests {
		return 0, nil
	}
	return waitFromHeaders(r.Header(), time.Now()), nil
}

func waitFromHeaders(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil && at.After(now) {
			return at.Sub(now)
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if at, err := time.Parse(time.RFC3339Nano, v); err == nil && at.After(now) {
			return at.Sub(now)
		}
	}
	return 0
}

func (c *Client) wait(ctx context.Context, rawURL string) error {
	if c.rps <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	c.mu.Lock()
	lim, ok := c.limiters[u.Host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.rps), 1)
		c.limiters[u.Host] = lim
	}
	c.mu.Unlock()
	return lim.Wait(ctx)
}

// BaseURL возвращает корень инстанса. Значение со схемой используется как есть.
func BaseURL(instance string) string {
	if strings.Contains(instance, "://") {
		return strings.TrimRight(instance, "/")
	}
	return "https://" + strings.TrimRight(instance, "/")
}

// LookupAccount ищет аккаунт по имени на его домашнем инстансе.
func (c *Client) LookupAccount(ctx context.Context, instance, username string) (acc domain.Account, err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest(component, "accounts_lookup", instance, start, err) }()

	endpoint := BaseURL(instance) + "/api/v1/accounts/lookup"
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("acct", username).
		Get(endpoint)
	if err != nil {
		return domain.Account{}, fmt.Errorf("lookup %s@%s: %w", username, instance, err)
	}
	if resp.StatusCode() != http.StatusOK {
		apiErr := &domain.APIError{Instance: instance, Endpoint: "accounts/lookup", StatusCode: resp.StatusCode()}
		if resp.StatusCode() == http.StatusNotFound {
			return domain.Account{}, fmt.Errorf("%w: %w", domain.ErrNotFound, apiErr)
		}
		return domain.Account{}, apiErr
	}
	if err := json.Unmarshal(resp.Body(), &acc); err != nil {
		return domain.Account{}, fmt.Errorf("decode lookup %s@%s: %w", username, instance, err)
	}
	return acc, nil
}

// FollowersPage загружает одну страницу подписчиков с параметрами params.
func (c *Client) FollowersPage(ctx context.Context, instance string, accountID domain.ID, params url.Values) (page domain.FollowerPage, err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest(component, "followers", instance, start, err) }()

	endpoint := fmt.Sprintf("%s/api/v1/accounts/%s/followers", BaseURL(instance), url.PathEscape(string(accountID)))
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(endpoint)
	if err != nil {
		return domain.FollowerPage{}, fmt.Errorf("followers %s/%s: %w", instance, accountID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return domain.FollowerPage{}, &domain.APIError{Instance: instance, Endpoint: "followers", StatusCode: resp.StatusCode()}
	}
	if err := json.Unmarshal(resp.Body(), &page.Accounts); err != nil {
		return domain.FollowerPage{}, fmt.Errorf("decode followers %s/%s: %w", instance, accountID, err)
	}
	page.Next = NextParams(resp.Header().Get("Link"))
	return page, nil
}
