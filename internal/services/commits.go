package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/commitlore/backend/internal/config"
	"github.com/commitlore/backend/pkg/logger"
)

// ResolvedCommit is a commit fetched from the forge, with per-file
// patches concatenated into Diff.
type ResolvedCommit struct {
	SHA          string    `json:"sha"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	AuthorEmail  string    `json:"author_email"`
	Date         time.Time `json:"date"`
	Diff         string    `json:"-"`
	FilesChanged int       `json:"files_changed"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	URL          string    `json:"url"`
}

// ListCommitsOptions filters the commit listing endpoint.
type ListCommitsOptions struct {
	Branch  string
	Author  string
	Since   time.Time
	Until   time.Time
	Page    int
	PerPage int
}

// CommitResolver fetches commit metadata and diffs from GitHub.
type CommitResolver interface {
	ResolveCommits(ctx context.Context, token, repository string, ids []string) ([]*ResolvedCommit, []string, error)
	ListCommits(ctx context.Context, token, repository string, opts *ListCommitsOptions) ([]*ResolvedCommit, error)
}

// GitHubResolver implements CommitResolver against the GitHub REST API.
type GitHubResolver struct {
	baseURL    string
	httpClient *http.Client
}

func NewGitHubResolver(cfg *config.GitHubConfig) *GitHubResolver {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHubResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type gitHubCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name  string    `json:"name"`
			Email string    `json:"email"`
			Date  time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	HTMLURL string `json:"html_url"`
	Stats   *struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
	Files []struct {
		Filename string `json:"filename"`
		Patch    string `json:"patch"`
	} `json:"files"`
}

func (c *gitHubCommit) toResolved() *ResolvedCommit {
	resolved := &ResolvedCommit{
		SHA:          c.SHA,
		Message:      c.Commit.Message,
		Author:       c.Commit.Author.Name,
		AuthorEmail:  c.Commit.Author.Email,
		Date:         c.Commit.Author.Date,
		FilesChanged: len(c.Files),
		URL:          c.HTMLURL,
	}
	if c.Stats != nil {
		resolved.Additions = c.Stats.Additions
		resolved.Deletions = c.Stats.Deletions
	}

	var diff strings.Builder
	for _, f := range c.Files {
		if f.Patch == "" {
			continue
		}
		fmt.Fprintf(&diff, "--- %s ---\n%s\n\n", f.Filename, f.Patch)
	}
	resolved.Diff = diff.String()
	return resolved
}

// ResolveCommits fetches each requested commit with its diff. Commits
// that cannot be fetched are reported in the second return value
// instead of failing the whole batch.
func (r *GitHubResolver) ResolveCommits(ctx context.Context, token, repository string, ids []string) ([]*ResolvedCommit, []string, error) {
	resolved := make([]*ResolvedCommit, 0, len(ids))
	var missing []string

	for _, id := range ids {
		commit, err := r.fetchCommit(ctx, token, repository, id)
		if err != nil {
			logger.Warnf("[Commits] Failed to resolve %s in %s: %v", shortSHA(id), repository, err)
			missing = append(missing, id)
			continue
		}
		resolved = append(resolved, commit)
	}

	if len(resolved) == 0 && len(missing) > 0 {
		return nil, missing, fmt.Errorf("no commits could be resolved from %s", repository)
	}
	return resolved, missing, nil
}

func (r *GitHubResolver) fetchCommit(ctx context.Context, token, repository, sha string) (*ResolvedCommit, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/commits/%s", r.baseURL, repository, url.PathEscape(sha))

	var commit gitHubCommit
	if err := r.getJSON(ctx, token, apiURL, &commit); err != nil {
		return nil, err
	}
	return commit.toResolved(), nil
}

// ListCommits pages through the repository's commit log with the given
// filters. Listing responses carry no diffs or stats.
func (r *GitHubResolver) ListCommits(ctx context.Context, token, repository string, opts *ListCommitsOptions) ([]*ResolvedCommit, error) {
	if opts == nil {
		opts = &ListCommitsOptions{}
	}
	perPage := opts.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 30
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}

	params := url.Values{}
	params.Set("per_page", fmt.Sprintf("%d", perPage))
	params.Set("page", fmt.Sprintf("%d", page))
	if opts.Branch != "" {
		params.Set("sha", opts.Branch)
	}
	if opts.Author != "" {
		params.Set("author", opts.Author)
	}
	if !opts.Since.IsZero() {
		params.Set("since", opts.Since.Format(time.RFC3339))
	}
	if !opts.Until.IsZero() {
		params.Set("until", opts.Until.Format(time.RFC3339))
	}

	apiURL := fmt.Sprintf("%s/repos/%s/commits?%s", r.baseURL, repository, params.Encode())

	var commits []gitHubCommit
	if err := r.getJSON(ctx, token, apiURL, &commits); err != nil {
		return nil, err
	}

	result := make([]*ResolvedCommit, 0, len(commits))
	for i := range commits {
		result = append(result, commits[i].toResolved())
	}
	return result, nil
}

func (r *GitHubResolver) getJSON(ctx context.Context, token, apiURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GitHub API returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
