package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/cache"
	"mastodon-follower-network/internal/usecase/match"
)

func writeArchive(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gz: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func post(id, accountURL, content string) string {
	return fmt.Sprintf(`{"id":%q,"url":"https://x/%s","uri":"https://x/u/%s","content":%q,"account":{"id":"7","username":"u","acct":"u","url":%q}}`,
		id, id, id, content, accountURL)
}

func newScanner(t *testing.T, workers int, domains ...string) *Scanner {
	t.Helper()
	m, err := match.New(match.NewDomainSet(domains))
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	return NewScanner(m, workers, zerolog.Nop())
}

func TestScanFileCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.social_1.gz")
	matching := `<a href="https://example.com/a">x</a><a href="https://other.com/b">y</a>`
	writeArchive(t, path,
		post("1", "https://a.social/@alice", matching),
		`{"content": null}`,
		`{not json`,
		"",
		post("2", "https://a.social/@bob", `<a href="https://other.com/c">z</a>`),
		`{"id":"3","content":"","account":{"id":"1","url":"https://a.social/@c"}}`,
		`{"id":"4","content":"<p>no author</p>"}`,
	)

	s := newScanner(t, 1, "example.com")
	var got []domain.MatchResult
	stats, err := s.ScanFile(context.Background(), path, func(res domain.MatchResult) error {
		got = append(got, res)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := domain.ScanStats{Files: 1, PostsSeen: 6, PostsWithContent: 2, ParseErrors: 1, URLsSeen: 3, URLsMatched: 1, PostsMatched: 1}
	if stats != want {
		t.Fatalf("unexpected stats %+v, want %+v", stats, want)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	res := got[0]
	if res.Post.ID != "1" || res.AllLinkCount != 2 || res.MatchedLinkCount != 1 || !res.Matched {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.SourceInstance != "a.social" || res.SourceFile != path {
		t.Fatalf("unexpected source %q %q", res.SourceInstance, res.SourceFile)
	}
	rec := res.Record()
	if rec.Username != "alice" || rec.AccountURL != "https://a.social/@alice" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestScanFileNullContentOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.social_1.gz")
	writeArchive(t, path, `{"content": null}`)

	s := newScanner(t, 1, "example.com")
	stats, err := s.ScanFile(context.Background(), path, func(domain.MatchResult) error {
		t.Fatal("nothing must be emitted")
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if stats.PostsSeen != 1 || stats.PostsWithContent != 0 || stats.ParseErrors != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestScanKeepsFileOrderWithWorkers(t *testing.T) {
	root := t.TempDir()
	var files []string
	for i := 0; i < 6; i++ {
		path := filepath.Join(root, fmt.Sprintf("i%d.social_%d.gz", i, i))
		var lines []string
		for j := 0; j < 300; j++ {
			lines = append(lines, post(fmt.Sprintf("%d-%d", i, j), fmt.Sprintf("https://i%d.social/@u", i), `<a href="https://example.com/">x</a>`))
		}
		writeArchive(t, path, lines...)
		files = append(files, path)
	}

	s := newScanner(t, 3, "example.com")
	var ids []string
	var done []string
	total, err := s.Scan(context.Background(), files, Handler{
		Match: func(_ context.Context, res domain.MatchResult) error {
			ids = append(ids, string(res.Post.ID))
			return nil
		},
		FileDone: func(_ context.Context, path string, stats domain.ScanStats, err error) error {
			if err != nil {
				t.Errorf("file %s failed: %v", path, err)
			}
			done = append(done, path)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if total.Files != 6 || total.PostsMatched != 1800 {
		t.Fatalf("unexpected totals %+v", total)
	}
	for k, id := range ids {
		want := fmt.Sprintf("%d-%d", k/300, k%300)
		if id != want {
			t.Fatalf("position %d: got %s want %s", k, id, want)
		}
	}
	for i := range files {
		if done[i] != files[i] {
			t.Fatalf("file order broken: %v", done)
		}
	}
}

func TestScanStopsLaunchingAfterCancel(t *testing.T) {
	root := t.TempDir()
	var files []string
	for i := 0; i < 4; i++ {
		path := filepath.Join(root, fmt.Sprintf("f%d.social_1.gz", i))
		writeArchive(t, path, post(fmt.Sprint(i), "https://f.social/@u", `<a href="https://example.com/">x</a>`))
		files = append(files, path)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newScanner(t, 2, "example.com")
	total, err := s.Scan(ctx, files, Handler{})
	if err == nil {
		t.Fatal("expected context error")
	}
	if total.Files != 0 {
		t.Fatalf("no file must start after cancel, got %+v", total)
	}
}

type memWriter struct {
	records []any
	flushes int
}

func (w *memWriter) Write(v any) error { w.records = append(w.records, v); return nil }
func (w *memWriter) Flush() error      { w.flushes++; return nil }

type authorCall struct{ instance, username string }

type memAuthors struct{ calls []authorCall }

func (a *memAuthors) Append(instance, username string, _ []byte) error {
	a.calls = append(a.calls, authorCall{instance, username})
	return nil
}

func TestStageCheckpointsFiles(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, filepath.Join(root, "2023-01", "a.social_1.gz"),
		post("1", "https://b.social/@bob", `<a href="https://www.example.com/x">x</a>`))
	writeArchive(t, filepath.Join(root, "2023-02", "a.social_2.gz"),
		post("2", "https://a.social/@alice", `<a href="https://example.com/y">y</a>`))

	out := &memWriter{}
	authors := &memAuthors{}
	st := &Stage{
		Scanner:     newScanner(t, 2, "example.com"),
		Ext:         ".gz",
		Out:         out,
		Authors:     authors,
		Checkpoints: cache.NewCheckpoints(cache.NewMemory()),
		Log:         zerolog.Nop(),
	}
	roots := []string{filepath.Join(root, "2023-01"), filepath.Join(root, "2023-02")}
	stats, err := st.Run(context.Background(), roots)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.PostsMatched != 2 || len(out.records) != 2 || out.flushes != 2 {
		t.Fatalf("unexpected result: stats=%+v records=%d flushes=%d", stats, len(out.records), out.flushes)
	}
	first := out.records[0].(domain.MatchedPost)
	if first.PostID != "1" || first.SourceInstance != "a.social" || first.Username != "bob" {
		t.Fatalf("unexpected first record %+v", first)
	}
	if len(authors.calls) != 2 || authors.calls[0] != (authorCall{"b.social", "bob"}) {
		t.Fatalf("unexpected author calls %+v", authors.calls)
	}

	stats, err = st.Run(context.Background(), roots)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if stats.Files != 0 || len(out.records) != 2 {
		t.Fatalf("checkpointed files must be skipped: %+v", stats)
	}
}

func TestStageCountOnlyWritesNothing(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, filepath.Join(root, "a.social_1.gz"),
		post("1", "https://a.social/@alice", `<a href="https://example.com/">x</a>`))
	cp := cache.NewCheckpoints(cache.NewMemory())
	st := &Stage{
		Scanner:     newScanner(t, 1, "example.com"),
		Ext:         ".gz",
		Checkpoints: cp,
		Log:         zerolog.Nop(),
	}
	stats, err := st.Run(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.URLsMatched != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	done, err := cp.Done(context.Background(), string(domain.StageScan), filepath.Join(root, "a.social_1.gz"))
	if err != nil || done {
		t.Fatalf("count-only must not checkpoint: done=%v err=%v", done, err)
	}
}
