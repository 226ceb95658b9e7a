package dedup

import (
	"context"
	"testing"

	"mastodon-follower-network/internal/domain"
)

func rp(instance, accID, postID, file string) domain.ResolvedPost {
	return domain.ResolvedPost{
		AuthorKey:  domain.AuthorKey{Instance: instance, HomeAccountID: domain.ID(accID)},
		PostID:     domain.ID(postID),
		Username:   "u" + accID,
		SourceFile: file,
	}
}

func collect(t *testing.T, records []domain.ResolvedPost, p Policy) []domain.ResolvedAccount {
	t.Helper()
	var out []domain.ResolvedAccount
	_, err := Deduplicate(context.Background(), FromSlice(records), p, func(acc domain.ResolvedAccount) error {
		out = append(out, acc)
		return nil
	})
	if err != nil {
		t.Fatalf("dedup: %v", err)
	}
	return out
}

func TestSameKeyAcrossFilesYieldsOneAccount(t *testing.T) {
	out := collect(t, []domain.ResolvedPost{
		rp("a.social", "5", "100", "a.social_1.gz"),
		rp("a.social", "5", "200", "b.social_1.gz"),
	}, DefaultPolicy)
	if len(out) != 1 {
		t.Fatalf("expected one account, got %+v", out)
	}
	if out[0].PostCount != 2 {
		t.Fatalf("expected 2 distinct posts, got %d", out[0].PostCount)
	}
}

func TestOrderIsFirstOccurrence(t *testing.T) {
	out := collect(t, []domain.ResolvedPost{
		rp("z.social", "1", "1", "f1"),
		rp("a.social", "2", "2", "f1"),
		rp("z.social", "1", "3", "f2"),
		rp("m.social", "3", "4", "f2"),
	}, DefaultPolicy)
	want := []string{"z.social/1", "a.social/2", "m.social/3"}
	if len(out) != len(want) {
		t.Fatalf("unexpected output %+v", out)
	}
	for i, w := range want {
		if out[i].AuthorKey.String() != w {
			t.Fatalf("position %d: got %s want %s", i, out[i].AuthorKey, w)
		}
	}
}

func TestPolicies(t *testing.T) {
	records := []domain.ResolvedPost{
		rp("a.social", "1", "10", "f1"),
		rp("a.social", "1", "10", "f2"),
		rp("a.social", "1", "11", "f2"),
		rp("b.social", "2", "20", "f1"),
		rp("c.social", "3", "30", "f1"),
		rp("c.social", "3", "31", "f1"),
		rp("c.social", "3", "32", "f2"),
	}
	cases := []struct {
		name   string
		policy Policy
		want   map[string]int
	}{
		{"default", DefaultPolicy, map[string]int{"a.social/1": 2, "b.social/2": 1, "c.social/3": 3}},
		{"redundant capture", Policy{MinCaptures: 2, MinPosts: 1}, map[string]int{"a.social/1": 1}},
		{"prolific", Policy{MinCaptures: 1, MinPosts: 3}, map[string]int{"c.social/3": 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := collect(t, records, tc.policy)
			if len(out) != len(tc.want) {
				t.Fatalf("unexpected output %+v", out)
			}
			seen := map[string]bool{}
			for _, acc := range out {
				key := acc.AuthorKey.String()
				if seen[key] {
					t.Fatalf("duplicate account %s", key)
				}
				seen[key] = true
				if acc.PostCount != tc.want[key] {
					t.Fatalf("%s: post count %d, want %d", key, acc.PostCount, tc.want[key])
				}
			}
		})
	}
}

func TestSkipsUnresolvedRecords(t *testing.T) {
	out := collect(t, []domain.ResolvedPost{
		rp("a.social", "", "1", "f1"),
		rp("", "1", "2", "f1"),
	}, DefaultPolicy)
	if len(out) != 0 {
		t.Fatalf("unexpected output %+v", out)
	}
}
