package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// MaxPageSize — максимальный размер страницы подписчиков, который отдаёт Mastodon.
const MaxPageSize = 80

// AppConfig описывает конфигурацию конвейера.
type AppConfig struct {
	AppEnv  string   `envconfig:"APP_ENV" default:"dev" yaml:"APP_ENV"`
	DataDir string   `envconfig:"DATA_DIR" yaml:"DATA_DIR"`
	BaseDir string   `envconfig:"BASE_DIR" default:"." yaml:"BASE_DIR"`
	Months  []string `envconfig:"MONTHS" yaml:"MONTHS"`
	LogDir  string   `envconfig:"LOG_DIR" yaml:"LOG_DIR"`

	MBFC struct {
		File   string `envconfig:"MBFC_FILE" yaml:"file"`
		Column string `envconfig:"MBFC_COLUMN" default:"actual_URL" yaml:"column"`
	} `envconfig:"" yaml:"mbfc"`

	Scan struct {
		ArchiveExt string `envconfig:"ARCHIVE_EXT" default:".gz" yaml:"archive_ext"`
		Workers    int    `envconfig:"SCAN_WORKERS" default:"4" yaml:"workers"`
		PerAuthor  bool   `envconfig:"SCAN_PER_AUTHOR" default:"false" yaml:"per_author"`
	} `envconfig:"" yaml:"scan"`

	Dedup struct {
		MinPosts    int `envconfig:"MIN_POSTS" default:"1" yaml:"min_posts"`
		MinCaptures int `envconfig:"MIN_CAPTURES" default:"1" yaml:"min_captures"`
	} `envconfig:"" yaml:"dedup"`

	Followers struct {
		PageSize     int           `envconfig:"PAGE_SIZE" default:"80" yaml:"page_size"`
		Workers      int           `envconfig:"FOLLOWER_WORKERS" default:"2" yaml:"workers"`
		MinFollowers int64         `envconfig:"MIN_FOLLOWERS" default:"0" yaml:"min_followers"`
		UseQueue     bool          `envconfig:"FOLLOWER_QUEUE" default:"false" yaml:"use_queue"`
		QueueKey     string        `envconfig:"FOLLOWER_QUEUE_KEY" default:"mbfc:accounts" yaml:"queue_key"`
		ClaimTTL     time.Duration `envconfig:"FOLLOWER_CLAIM_TTL" default:"1h" yaml:"claim_ttl"`
	} `envconfig:"" yaml:"followers"`

	HTTP struct {
		Timeout      time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s" yaml:"timeout"`
		Retries      int           `envconfig:"HTTP_RETRIES" default:"5" yaml:"retries"`
		RetryWait    time.Duration `envconfig:"HTTP_RETRY_WAIT" default:"1s" yaml:"retry_wait"`
		RetryMaxWait time.Duration `envconfig:"HTTP_RETRY_MAX_WAIT" default:"2m" yaml:"retry_max_wait"`
		UserAgent    string        `envconfig:"HTTP_USER_AGENT" default:"mastodon-follower-network/1.0" yaml:"user_agent"`
		RPS          float64       `envconfig:"HTTP_RPS" default:"0" yaml:"rps"`
	} `envconfig:"" yaml:"http"`

	RedisAddr   string `envconfig:"REDIS_ADDR" yaml:"REDIS_ADDR"`
	RabbitURL   string `envconfig:"RABBITMQ_URL" yaml:"RABBITMQ_URL"`
	PGDSN       string `envconfig:"PG_DSN" yaml:"PG_DSN"`
	SQLitePath  string `envconfig:"SQLITE_PATH" yaml:"SQLITE_PATH"`
	MetricsAddr string `envconfig:"METRICS_ADDR" yaml:"METRICS_ADDR"`

	// LookupTTL — срок жизни кэша разрешённых аккаунтов.
	LookupTTL time.Duration `envconfig:"LOOKUP_TTL" default:"720h" yaml:"LOOKUP_TTL"`

	Telegram struct {
		Token  string `envconfig:"TG_BOT_TOKEN" yaml:"token"`
		ChatID int64  `envconfig:"TG_CHAT_ID" yaml:"chat_id"`
	} `envconfig:"" yaml:"telegram"`
}

// Load читает конфиг из окружения, затем накладывает YAML-файл, если путь задан.
// Значения из файла имеют приоритет: envconfig заново выставляет default-значения,
// поэтому файл применяется последним.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("не удалось загрузить конфиг из окружения: %w", err)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("не удалось прочитать %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("не удалось разобрать %s: %w", path, err)
		}
	}
	cfg.normalize()
	return cfg, nil
}

func (c *AppConfig) normalize() {
	if c.MBFC.File == "" {
		c.MBFC.File = filepath.Join(c.BaseDir, "MBFC.csv")
	}
	if c.Followers.PageSize < 1 {
		c.Followers.PageSize = 1
	}
	if c.Followers.PageSize > MaxPageSize {
		c.Followers.PageSize = MaxPageSize
	}
	if c.Scan.Workers < 1 {
		c.Scan.Workers = 1
	}
	if c.Followers.Workers < 1 {
		c.Followers.Workers = 1
	}
	if c.Dedup.MinPosts < 1 {
		c.Dedup.MinPosts = 1
	}
	if c.Dedup.MinCaptures < 1 {
		c.Dedup.MinCaptures = 1
	}
}

// Validate проверяет предусловия запуска сканирования.
func (c AppConfig) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR не задан"))
	} else if st, err := os.Stat(c.DataDir); err != nil {
		errs = append(errs, fmt.Errorf("DATA_DIR недоступен: %w", err))
	} else if !st.IsDir() {
		errs = append(errs, fmt.Errorf("DATA_DIR %s не является каталогом", c.DataDir))
	}
	if _, err := os.Stat(c.MBFC.File); err != nil {
		errs = append(errs, fmt.Errorf("список доменов недоступен: %w", err))
	}
	return errors.Join(errs...)
}

// ScanRoots возвращает каталоги для сканирования: по месяцам или весь DATA_DIR.
func (c AppConfig) ScanRoots() []string {
	if len(c.Months) == 0 {
		return []string{c.DataDir}
	}
	roots := make([]string, 0, len(c.Months))
	for _, m := range c.Months {
		roots = append(roots, filepath.Join(c.DataDir, m))
	}
	return roots
}

// Path возвращает путь файла этапа внутри BASE_DIR.
func (c AppConfig) Path(name string) string {
	return filepath.Join(c.BaseDir, name)
}

const (
	MatchedPostsFile  = "matched_posts.ndjson"
	ResolvedPostsFile = "resolved_posts.ndjson"
	AccountsFile      = "accounts.ndjson"
	FollowersFile     = "followers.ndjson"
	AuthorsDir        = "authors"
	CheckpointsFile   = "checkpoints.ndjson"
)
