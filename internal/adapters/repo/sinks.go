package repo

import (
	"context"
	"errors"

	"mastodon-follower-network/internal/domain"
)

// RecordWriter — построчный писатель файла этапа.
type RecordWriter interface {
	Write(v any) error
	Flush() error
}

// FileSink пишет результат в файл followers.ndjson и сбрасывает буфер после каждого аккаунта.
type FileSink struct {
	w RecordWriter
}

// NewFileSink создаёт файловый приёмник.
func NewFileSink(w RecordWriter) *FileSink {
	return &FileSink{w: w}
}

func (s *FileSink) SaveFollowers(_ context.Context, rec domain.AccountFollowers) error {
	if err := s.w.Write(rec); err != nil {
		return err
	}
	return s.w.Flush()
}

// MultiSink сохраняет результат во все приёмники по очереди.
type MultiSink []domain.FollowerSink

func (m MultiSink) SaveFollowers(ctx context.Context, rec domain.AccountFollowers) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveFollowers(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
