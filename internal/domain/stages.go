package domain

// Stage — этап конвейера. Используется в чекпоинтах, метриках и именах логов.
type Stage string

const (
	StageScan      Stage = "scan"
	StageResolve   Stage = "resolve"
	StageDedup     Stage = "dedup"
	StageFollowers Stage = "followers"
	StageReport    Stage = "report"
)

// ScanStats — счётчики сканирования архива.
type ScanStats struct {
	Files            int64 `json:"files"`
	PostsSeen        int64 `json:"posts_seen"`
	PostsWithContent int64 `json:"posts_with_content"`
	ParseErrors      int64 `json:"parse_errors"`
	URLsSeen         int64 `json:"urls_seen"`
	URLsMatched      int64 `json:"urls_matched"`
	PostsMatched     int64 `json:"posts_matched"`
}

// Add прибавляет счётчики другого файла.
func (s *ScanStats) Add(o ScanStats) {
	s.Files += o.Files
	s.PostsSeen += o.PostsSeen
	s.PostsWithContent += o.PostsWithContent
	s.ParseErrors += o.ParseErrors
	s.URLsSeen += o.URLsSeen
	s.URLsMatched += o.URLsMatched
	s.PostsMatched += o.PostsMatched
}

// ResolveStats — счётчики этапа разрешения аккаунтов.
type ResolveStats struct {
	Posts    int64 `json:"posts"`
	Local    int64 `json:"local"`
	Cached   int64 `json:"cached"`
	Lookups  int64 `json:"lookups"`
	Failures int64 `json:"failures"`
}

// DedupStats — счётчики дедупликации.
type DedupStats struct {
	Posts    int64 `json:"posts"`
	Keys     int64 `json:"keys"`
	Accounts int64 `json:"accounts"`
}

// FollowerStats — счётчики выгрузки подписчиков.
type FollowerStats struct {
	Accounts   int64 `json:"accounts"`
	Skipped    int64 `json:"skipped"`
	Complete   int64 `json:"complete"`
	Incomplete int64 `json:"incomplete"`
	Followers  int64 `json:"followers"`
}
