package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NewLogger создаёт настроенный zerolog.
// Если logDir задан, записи дублируются в <logDir>/<stage>.log.
// Возвращаемый closer нужно вызвать при завершении этапа.
func NewLogger(appEnv, logDir, stage string) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if appEnv == "dev" {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("создание каталога логов: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(logDir, stage+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("открытие файла лога: %w", err)
		}
		out = zerolog.MultiLevelWriter(os.Stdout, f)
		closer = f
	}

	logger := zerolog.New(out).With().
		Timestamp().
		Str("stage", stage).
		Str("run_id", uuid.NewString()).
		Logger().
		Level(level)
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
