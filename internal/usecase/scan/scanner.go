package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mastodon-follower-network/internal/adapters/archive"
	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/metrics"
	"mastodon-follower-network/internal/usecase/match"
)

const fileBuffer = 256

// Handler получает результаты сканирования. Вызовы идут из одной горутины
// в порядке файлов и строк внутри файла.
type Handler struct {
	// Match вызывается для каждого поста со ссылкой на домен из списка.
	Match func(ctx context.Context, res domain.MatchResult) error
	// FileDone вызывается после последней строки файла; err != nil, если файл не дочитан.
	FileDone func(ctx context.Context, path string, stats domain.ScanStats, err error) error
}

// Scanner ищет в архивах посты со ссылками на домены из списка.
type Scanner struct {
	matcher *match.Matcher
	workers int
	log     zerolog.Logger
}

// NewScanner создаёт сканер. workers ограничивает число одновременно открытых архивов.
func NewScanner(m *match.Matcher, workers int, logger zerolog.Logger) *Scanner {
	if workers < 1 {
		workers = 1
	}
	return &Scanner{matcher: m, workers: workers, log: logger}
}

// ScanFile читает один архив и передаёт совпавшие посты в emit.
// Некорректные строки и посты без текста пропускаются и учитываются в счётчиках.
func (s *Scanner) ScanFile(ctx context.Context, path string, emit func(domain.MatchResult) error) (domain.ScanStats, error) {
	stats := domain.ScanStats{Files: 1}
	r, err := archive.Open(path)
	if err != nil {
		return stats, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	instance := archive.InstanceFromFile(path)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read line %d: %w", lineNo, err)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		stats.PostsSeen++
		metrics.PostsSeen.Inc()

		var post domain.PostRecord
		if err := json.Unmarshal(line, &post); err != nil {
			stats.ParseErrors++
			metrics.ParseErrors.Inc()
			s.log.Debug().Err(err).Str("file", path).Int("line", lineNo).Str("content", preview(line)).Msg("scan: некорректная строка пропущена")
			continue
		}
		if !post.HasContent() {
			s.log.Debug().Str("file", path).Int("line", lineNo).Str("post_id", string(post.ID)).Msg("scan: пост без текста или автора")
			continue
		}
		stats.PostsWithContent++
		metrics.PostsWithContent.Inc()

		links := s.matcher.Links(*post.Content)
		stats.URLsSeen += int64(links.All)
		stats.URLsMatched += int64(links.Matched)
		metrics.URLsSeen.Add(float64(links.All))
		metrics.URLsMatched.Add(float64(links.Matched))
		if links.Matched == 0 {
			continue
		}
		stats.PostsMatched++
		res := domain.MatchResult{
			Post:             post,
			Raw:              line,
			SourceFile:       path,
			SourceInstance:   instance,
			AllLinkCount:     links.All,
			MatchedLinkCount: links.Matched,
			Matched:          true,
		}
		if err := emit(res); err != nil {
			return stats, err
		}
	}
}

type fileJob struct {
	path    string
	items   chan domain.MatchResult
	done    chan struct{}
	stats   domain.ScanStats
	err     error
	started bool
}

// Scan обрабатывает файлы параллельно, но отдаёт результаты в handler строго по порядку files.
// После отмены ctx новые файлы не начинаются, начатые дочитываются до конца.
func (s *Scanner) Scan(ctx context.Context, files []string, h Handler) (domain.ScanStats, error) {
	var total domain.ScanStats
	jobs := make([]*fileJob, len(files))
	for i, path := range files {
		jobs[i] = &fileJob{path: path, items: make(chan domain.MatchResult, fileBuffer), done: make(chan struct{})}
	}

	// уже начатые файлы дочитываются и после отмены
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for _, job := range jobs {
			job := job
			if ctx.Err() != nil || workCtx.Err() != nil {
				close(job.items)
				close(job.done)
				continue
			}
			g.Go(func() error {
				job.started = true
				defer close(job.done)
				defer close(job.items)
				job.stats, job.err = s.ScanFile(workCtx, job.path, func(res domain.MatchResult) error {
					select {
					case job.items <- res:
						return nil
					case <-workCtx.Done():
						return workCtx.Err()
					}
				})
				return nil
			})
		}
	}()

	// запись результатов начатых файлов завершается и после отмены
	hctx := context.WithoutCancel(ctx)
	var handlerErr error
	for _, job := range jobs {
		if handlerErr != nil {
			break
		}
		for res := range job.items {
			if handlerErr != nil || h.Match == nil {
				continue
			}
			if err := h.Match(hctx, res); err != nil {
				handlerErr = fmt.Errorf("handle match from %s: %w", job.path, err)
				stopWork()
			}
		}
		<-job.done
		if !job.started {
			break
		}
		total.Add(job.stats)
		s.logFile(job)
		if handlerErr == nil && h.FileDone != nil {
			if err := h.FileDone(hctx, job.path, job.stats, job.err); err != nil {
				handlerErr = fmt.Errorf("finish %s: %w", job.path, err)
				stopWork()
			}
		}
	}
	stopWork()
	// вычитываем оставшиеся каналы, чтобы воркеры и запуск не зависли
	for _, job := range jobs {
		for range job.items {
		}
	}
	<-launched
	_ = g.Wait()

	s.log.Info().
		Int64("files", total.Files).
		Int64("posts_seen", total.PostsSeen).
		Int64("posts_with_content", total.PostsWithContent).
		Int64("parse_errors", total.ParseErrors).
		Int64("urls_seen", total.URLsSeen).
		Int64("urls_matched", total.URLsMatched).
		Int64("posts_matched", total.PostsMatched).
		Msg("scan: итого")

	if handlerErr != nil {
		return total, handlerErr
	}
	return total, ctx.Err()
}

func (s *Scanner) logFile(job *fileJob) {
	ev := s.log.Info()
	if job.err != nil {
		ev = s.log.Error().Err(job.err)
	}
	ev.Str("file", job.path).
		Int64("posts_seen", job.stats.PostsSeen).
		Int64("posts_with_content", job.stats.PostsWithContent).
		Int64("parse_errors", job.stats.ParseErrors).
		Int64("urls_seen", job.stats.URLsSeen).
		Int64("urls_matched", job.stats.URLsMatched).
		Msg("scan: файл обработан")
}

func preview(line []byte) string {
	const max = 200
	if len(line) > max {
		return string(line[:max]) + "..."
	}
	return string(line)
}
