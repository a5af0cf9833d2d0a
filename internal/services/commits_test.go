package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/commitlore/backend/internal/config"
)

func commitJSON(sha string) string {
	return fmt.Sprintf(`{
		"sha": %q,
		"commit": {
			"message": "Fix the thing",
			"author": {"name": "alice", "email": "alice@example.com", "date": "2025-06-01T12:00:00Z"}
		},
		"html_url": "https://github.com/acme/api/commit/%s",
		"stats": {"additions": 10, "deletions": 2},
		"files": [
			{"filename": "a.go", "patch": "@@ -1 +1 @@\n-old\n+new"},
			{"filename": "b.go", "patch": ""}
		]
	}`, sha, sha)
}

func newGitHubStub(t *testing.T, known map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token tok123" {
			t.Errorf("Authorization = %q", got)
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		sha := parts[len(parts)-1]
		if !known[sha] {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "Not Found"}`)
			return
		}
		fmt.Fprint(w, commitJSON(sha))
	}))
}

func TestGitHubResolver_ResolveCommits(t *testing.T) {
	srv := newGitHubStub(t, map[string]bool{"abc123": true})
	defer srv.Close()

	resolver := NewGitHubResolver(&config.GitHubConfig{BaseURL: srv.URL})
	resolved, missing, err := resolver.ResolveCommits(context.Background(), "tok123", "acme/api", []string{"abc123"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("missing = %v", missing)
	}
	if len(resolved) != 1 {
		t.Fatalf("resolved = %d, expected 1", len(resolved))
	}

	c := resolved[0]
	if c.SHA != "abc123" || c.Author != "alice" || c.Message != "Fix the thing" {
		t.Errorf("unexpected commit: %+v", c)
	}
	if c.Additions != 10 || c.Deletions != 2 {
		t.Errorf("stats = +%d/-%d, expected +10/-2", c.Additions, c.Deletions)
	}
	if c.FilesChanged != 2 {
		t.Errorf("FilesChanged = %d, expected 2", c.FilesChanged)
	}
	if !strings.Contains(c.Diff, "--- a.go ---") {
		t.Errorf("diff should name the file: %q", c.Diff)
	}
	if strings.Contains(c.Diff, "b.go") {
		t.Error("files without a patch should be omitted from the diff")
	}
}

func TestGitHubResolver_PartialResolution(t *testing.T) {
	srv := newGitHubStub(t, map[string]bool{"good1": true})
	defer srv.Close()

	resolver := NewGitHubResolver(&config.GitHubConfig{BaseURL: srv.URL})
	resolved, missing, err := resolver.ResolveCommits(context.Background(), "tok123", "acme/api", []string{"good1", "gone1"})
	if err != nil {
		t.Fatalf("partial resolution should not fail the batch: %v", err)
	}
	if len(resolved) != 1 || resolved[0].SHA != "good1" {
		t.Errorf("resolved = %+v", resolved)
	}
	if len(missing) != 1 || missing[0] != "gone1" {
		t.Errorf("missing = %v", missing)
	}
}

func TestGitHubResolver_AllMissingFails(t *testing.T) {
	srv := newGitHubStub(t, nil)
	defer srv.Close()

	resolver := NewGitHubResolver(&config.GitHubConfig{BaseURL: srv.URL})
	_, missing, err := resolver.ResolveCommits(context.Background(), "tok123", "acme/api", []string{"gone1", "gone2"})
	if err == nil {
		t.Fatal("resolving zero commits should fail")
	}
	if len(missing) != 2 {
		t.Errorf("missing = %v", missing)
	}
}

func TestGitHubResolver_ListCommits(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprintf(w, "[%s, %s]", commitJSON("aaa111"), commitJSON("bbb222"))
	}))
	defer srv.Close()

	resolver := NewGitHubResolver(&config.GitHubConfig{BaseURL: srv.URL})
	commits, err := resolver.ListCommits(context.Background(), "", "acme/api", &ListCommitsOptions{
		Branch: "main",
		Author: "alice",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("commits = %d, expected 2", len(commits))
	}
	if !strings.Contains(gotQuery, "sha=main") || !strings.Contains(gotQuery, "author=alice") {
		t.Errorf("query = %q", gotQuery)
	}
	if !strings.Contains(gotQuery, "per_page=30") {
		t.Errorf("default page size missing from %q", gotQuery)
	}
}
