package report

import (
	"io"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"mastodon-follower-network/internal/domain"
)

// Source перечисляет записи этапа выгрузки подписчиков.
type Source func(fn func(domain.AccountFollowers) error) error

// Report — сводка по аккаунтам и их аудитории.
type Report struct {
	Accounts    int
	Complete    int
	Followers   Stats
	Posts       Stats
	Correlation float64
	Top         []domain.AccountFollowers
}

// Build собирает сводку и оставляет topN аккаунтов с наибольшей аудиторией.
// Статистика и корреляция считаются только по аккаунтам с полной выгрузкой.
// Повторные записи одного аккаунта (дозапись при перезапуске) учитываются по последней.
func Build(src Source, topN int) (Report, error) {
	latest := make(map[domain.AuthorKey]int)
	var recs []domain.AccountFollowers
	err := src(func(rec domain.AccountFollowers) error {
		rec.Followers = nil
		if i, ok := latest[rec.AuthorKey]; ok {
			recs[i] = rec
			return nil
		}
		latest[rec.AuthorKey] = len(recs)
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	r := Report{Accounts: len(recs)}
	followers := make([]float64, 0, len(recs))
	posts := make([]float64, 0, len(recs))
	// неполные списки занижают аудиторию и в статистику не попадают
	for _, rec := range recs {
		if !rec.Complete {
			continue
		}
		r.Complete++
		followers = append(followers, float64(rec.TotalFollowersCount))
		posts = append(posts, float64(rec.PostCount))
	}
	r.Followers = Describe(followers)
	r.Posts = Describe(posts)
	r.Correlation = Pearson(posts, followers)

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].TotalFollowersCount > recs[j].TotalFollowersCount
	})
	if topN > len(recs) {
		topN = len(recs)
	}
	if topN > 0 {
		r.Top = recs[:topN]
	}
	return r, nil
}

// Render выводит сводку таблицами.
func (r Report) Render(w io.Writer) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetTitle("Аудитория аккаунтов")
	summary.AppendHeader(table.Row{"", "count", "min", "max", "mean", "median", "stddev", "skew"})
	summary.AppendRow(statsRow("followers", r.Followers))
	summary.AppendRow(statsRow("posts", r.Posts))
	summary.AppendFooter(table.Row{"accounts", humanize.Comma(int64(r.Accounts)), "complete", humanize.Comma(int64(r.Complete)), "corr(posts, followers)", formatFloat(r.Correlation), "", ""})
	summary.Render()

	if len(r.Top) == 0 {
		return
	}
	top := table.NewWriter()
	top.SetOutputMirror(w)
	top.SetTitle("Крупнейшие аккаунты")
	top.AppendHeader(table.Row{"#", "account", "posts", "followers", "complete"})
	for i, rec := range r.Top {
		top.AppendRow(table.Row{i + 1, rec.Acct, rec.PostCount, humanize.Comma(int64(rec.TotalFollowersCount)), rec.Complete})
	}
	top.Render()
}

func (r Report) String() string {
	var b strings.Builder
	r.Render(&b)
	return b.String()
}

func statsRow(name string, s Stats) table.Row {
	return table.Row{
		name,
		humanize.Comma(int64(s.Count)),
		humanize.Comma(int64(s.Min)),
		humanize.Comma(int64(s.Max)),
		formatFloat(s.Mean),
		formatFloat(s.Median),
		formatFloat(s.StdDev),
		formatFloat(s.Skewness),
	}
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return humanize.CommafWithDigits(v, 2)
}

// RunSummary — счётчики этапов одного запуска.
type RunSummary struct {
	Scan      domain.ScanStats
	Resolve   domain.ResolveStats
	Dedup     domain.DedupStats
	Followers domain.FollowerStats
}

// Render выводит счётчики этапов.
func (s RunSummary) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Итоги запуска")
	t.AppendHeader(table.Row{"stage", "metric", "value"})
	rows := []struct {
		stage, metric string
		v             int64
	}{
		{"scan", "files", s.Scan.Files},
		{"scan", "posts seen", s.Scan.PostsSeen},
		{"scan", "posts with content", s.Scan.PostsWithContent},
		{"scan", "parse errors", s.Scan.ParseErrors},
		{"scan", "urls seen", s.Scan.URLsSeen},
		{"scan", "urls matched", s.Scan.URLsMatched},
		{"scan", "posts matched", s.Scan.PostsMatched},
		{"resolve", "posts", s.Resolve.Posts},
		{"resolve", "local", s.Resolve.Local},
		{"resolve", "cached", s.Resolve.Cached},
		{"resolve", "lookups", s.Resolve.Lookups},
		{"resolve", "failures", s.Resolve.Failures},
		{"dedup", "accounts", s.Dedup.Accounts},
		{"followers", "accounts", s.Followers.Accounts},
		{"followers", "skipped", s.Followers.Skipped},
		{"followers", "incomplete", s.Followers.Incomplete},
		{"followers", "followers", s.Followers.Followers},
	}
	for _, r := range rows {
		t.AppendRow(table.Row{r.stage, r.metric, humanize.Comma(r.v)})
	}
	t.Render()
}

func (s RunSummary) String() string {
	var b strings.Builder
	s.Render(&b)
	return b.String()
}
