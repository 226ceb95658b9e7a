package scan

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mastodon-follower-network/internal/adapters/archive"
	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/metrics"
)

// RecordWriter сохраняет записи этапа.
type RecordWriter interface {
	Write(v any) error
	Flush() error
}

// AuthorSink дописывает исходную строку поста в файл автора.
type AuthorSink interface {
	Append(instance, username string, raw []byte) error
}

// Stage — этап сканирования: выбирает архивы, пропускает уже обработанные,
// пишет совпавшие посты и отмечает файлы в чекпоинтах.
// Без Out работает в режиме подсчёта ссылок и ничего не пишет.
type Stage struct {
	Scanner     *Scanner
	Ext         string
	Out         RecordWriter
	Authors     AuthorSink
	Checkpoints domain.Checkpoints
	Log         zerolog.Logger
}

// Files собирает архивы со всех корней и отбрасывает отмеченные в чекпоинтах.
func (st *Stage) Files(ctx context.Context, roots []string) ([]string, error) {
	var files []string
	for _, root := range roots {
		found, err := archive.List(root, st.Ext)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			if st.Checkpoints != nil && st.Out != nil {
				done, err := st.Checkpoints.Done(ctx, string(domain.StageScan), f)
				if err != nil {
					return nil, fmt.Errorf("checkpoint %s: %w", f, err)
				}
				if done {
					st.Log.Debug().Str("file", f).Msg("scan: файл уже обработан, пропускаем")
					continue
				}
			}
			files = append(files, f)
		}
	}
	return files, nil
}

// Run сканирует архивы под корнями roots.
func (st *Stage) Run(ctx context.Context, roots []string) (domain.ScanStats, error) {
	files, err := st.Files(ctx, roots)
	if err != nil {
		return domain.ScanStats{}, err
	}
	st.Log.Info().Int("files", len(files)).Bool("count_only", st.Out == nil).Msg("scan: старт")

	h := Handler{
		Match:    st.onMatch,
		FileDone: st.onFileDone,
	}
	return st.Scanner.Scan(ctx, files, h)
}

func (st *Stage) onMatch(_ context.Context, res domain.MatchResult) error {
	if st.Out == nil {
		return nil
	}
	rec := res.Record()
	if err := st.Out.Write(rec); err != nil {
		return err
	}
	if st.Authors != nil {
		instance, username, err := domain.ParseAccountURL(rec.AccountURL)
		if err != nil {
			st.Log.Warn().Err(err).Str("file", res.SourceFile).Str("post_id", string(rec.PostID)).Msg("scan: автор не определён, файл автора не пишем")
			return nil
		}
		if err := st.Authors.Append(instance, username, res.Raw); err != nil {
			st.Log.Error().Err(err).Str("instance", instance).Str("username", username).Msg("scan: не удалось дописать файл автора")
		}
	}
	return nil
}

func (st *Stage) onFileDone(ctx context.Context, path string, _ domain.ScanStats, scanErr error) error {
	if scanErr != nil {
		metrics.ArchivesProcessed.WithLabelValues("failed").Inc()
		// файл не отмечается и будет перечитан при следующем запуске
		return nil
	}
	metrics.ArchivesProcessed.WithLabelValues("ok").Inc()
	if st.Out == nil {
		return nil
	}
	if err := st.Out.Flush(); err != nil {
		return err
	}
	if st.Checkpoints != nil {
		if err := st.Checkpoints.Mark(ctx, string(domain.StageScan), path); err != nil {
			st.Log.Error().Err(err).Str("file", path).Msg("scan: не удалось сохранить чекпоинт")
		}
	}
	return nil
}
