package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PostsSeen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_posts_seen_total",
		Help: "Прочитано строк архивов",
	})
	PostsWithContent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_posts_with_content_total",
		Help: "Постов с текстом и автором",
	})
	ParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_parse_errors_total",
		Help: "Строки с некорректным JSON",
	})
	URLsSeen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_urls_seen_total",
		Help: "Найдено ссылок в постах",
	})
	URLsMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_urls_matched_total",
		Help: "Ссылок на домены из списка",
	})
	ArchivesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_archives_total",
		Help: "Обработано архивов по статусу",
	}, []string{"status"})

	PostsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resolve_posts_total",
		Help: "Постов, привязанных к домашнему аккаунту, по способу",
	}, []string{"status"})
	AccountsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dedup_accounts_total",
		Help: "Уникальных аккаунтов после дедупликации",
	})

	FollowerPages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "followers_pages_total",
		Help: "Загружено страниц подписчиков",
	})
	FollowersFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "followers_fetched_total",
		Help: "Загружено подписчиков",
	})
	FollowerAccounts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "followers_accounts_total",
		Help: "Аккаунтов обработано при выгрузке подписчиков",
	}, []string{"status"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "api_retries_total",
		Help: "Повторы запросов к API инстансов",
	}, []string{"reason"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PostsSeen,
		PostsWithContent,
		ParseErrors,
		URLsSeen,
		URLsMatched,
		ArchivesProcessed,
		PostsResolved,
		AccountsEmitted,
		FollowerPages,
		FollowersFetched,
		FollowerAccounts,
		APIRetries,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
