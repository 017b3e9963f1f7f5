package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Evidence bounds for CodeSample. Each sampled file is truncated to
// maxFileChars and the joined sample is capped at maxSampleChars so the
// judge prompt stays within a predictable budget.
const (
	maxSampleFiles  = 6
	maxFileChars    = 1000
	maxSampleChars  = 4000
	sampleSeparator = "\n\n---\n\n"
)

var codeExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".py", ".go", ".rs", ".java", ".php", ".rb"}

// Client is the issue-tracker boundary consumed by the judge, the webhook
// handler, and the feedback publisher.
type Client interface {
	// CodeSample returns a bounded concatenation of source files from the
	// repository, for use as judging evidence. Best-effort: an empty string
	// with nil error means no code was available.
	CodeSample(ctx context.Context, repoURL string) (string, error)
	PostComment(ctx context.Context, repoURL string, issueNumber int, body string) error
	// EnsureLabel creates the label if it does not exist. Creating an
	// already-existing label is a no-op, not an error.
	EnsureLabel(ctx context.Context, repoURL, name, color, description string) error
	AddLabel(ctx context.Context, repoURL string, issueNumber int, label string) error
	CloseIssue(ctx context.Context, repoURL string, issueNumber int) error
}

// RealClient implements Client using the gh CLI.
type RealClient struct {
	run func(ctx context.Context, args ...string) (string, error)
}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{run: ghRun}
}

func ghRun(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ExtractOwnerRepo parses a GitHub remote URL into owner and repo.
func ExtractOwnerRepo(remoteURL string) (owner, repo string, err error) {
	// Handle SSH: git@github.com:owner/repo.git
	if strings.HasPrefix(remoteURL, "git@") {
		parts := strings.SplitN(remoteURL, ":", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("cannot parse SSH remote: %s", remoteURL)
		}
		path := strings.TrimSuffix(parts[1], ".git")
		segments := strings.SplitN(path, "/", 2)
		if len(segments) != 2 {
			return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
		}
		return segments[0], segments[1], nil
	}

	// Handle HTTPS: https://github.com/owner/repo.git
	trimmed := strings.TrimSuffix(remoteURL, ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://github.com/")
	trimmed = strings.TrimPrefix(trimmed, "http://github.com/")
	segments := strings.SplitN(trimmed, "/", 2)
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}
	return segments[0], segments[1], nil
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type treeResponse struct {
	Tree []treeEntry `json:"tree"`
}

type contentResponse struct {
	Content string `json:"content"`
}

// pickCodeFiles filters tree entries down to the first max code blobs.
func pickCodeFiles(entries []treeEntry, max int) []string {
	var paths []string
	for _, e := range entries {
		if e.Type != "blob" {
			continue
		}
		for _, ext := range codeExtensions {
			if strings.HasSuffix(e.Path, ext) {
				paths = append(paths, e.Path)
				break
			}
		}
		if len(paths) == max {
			break
		}
	}
	return paths
}

// sampleFile is one fetched file ready for assembly.
type sampleFile struct {
	Path    string
	Content string
}

// assembleSample joins fetched files into the bounded evidence text.
func assembleSample(files []sampleFile) string {
	var parts []string
	for _, f := range files {
		content := f.Content
		if len(content) > maxFileChars {
			content = content[:maxFileChars]
		}
		if content == "" {
			continue
		}
		parts = append(parts, "// "+f.Path+"\n"+content)
	}
	sample := strings.Join(parts, sampleSeparator)
	if len(sample) > maxSampleChars {
		sample = sample[:maxSampleChars]
	}
	return sample
}

func (c *RealClient) CodeSample(ctx context.Context, repoURL string) (string, error) {
	owner, repo, err := ExtractOwnerRepo(repoURL)
	if err != nil {
		return "", err
	}

	out, err := c.run(ctx, "api", fmt.Sprintf("repos/%s/%s/git/trees/HEAD?recursive=1", owner, repo))
	if err != nil {
		return "", err
	}

	var tree treeResponse
	if err := json.Unmarshal([]byte(out), &tree); err != nil {
		return "", fmt.Errorf("parse tree: %w", err)
	}

	var files []sampleFile
	for _, path := range pickCodeFiles(tree.Tree, maxSampleFiles) {
		out, err := c.run(ctx, "api", fmt.Sprintf("repos/%s/%s/contents/%s", owner, repo, path))
		if err != nil {
			continue // skip unfetchable files, evidence is best-effort
		}
		var content contentResponse
		if err := json.Unmarshal([]byte(out), &content); err != nil {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
		if err != nil {
			continue
		}
		files = append(files, sampleFile{Path: path, Content: string(decoded)})
	}

	return assembleSample(files), nil
}

func (c *RealClient) PostComment(ctx context.Context, repoURL string, issueNumber int, body string) error {
	owner, repo, err := ExtractOwnerRepo(repoURL)
	if err != nil {
		return err
	}
	_, err = c.run(ctx, "api",
		fmt.Sprintf("repos/%s/%s/issues/%d/comments", owner, repo, issueNumber),
		"-f", "body="+body,
	)
	return err
}

func (c *RealClient) EnsureLabel(ctx context.Context, repoURL, name, color, description string) error {
	owner, repo, err := ExtractOwnerRepo(repoURL)
	if err != nil {
		return err
	}
	_, err = c.run(ctx, "api",
		fmt.Sprintf("repos/%s/%s/labels", owner, repo),
		"-f", "name="+name,
		"-f", "color="+color,
		"-f", "description="+description,
	)
	if err != nil && strings.Contains(err.Error(), "already_exists") {
		return nil
	}
	return err
}

func (c *RealClient) AddLabel(ctx context.Context, repoURL string, issueNumber int, label string) error {
	owner, repo, err := ExtractOwnerRepo(repoURL)
	if err != nil {
		return err
	}
	_, err = c.run(ctx, "api",
		fmt.Sprintf("repos/%s/%s/issues/%d/labels", owner, repo, issueNumber),
		"-f", "labels[]="+label,
	)
	return err
}

func (c *RealClient) CloseIssue(ctx context.Context, repoURL string, issueNumber int) error {
	owner, repo, err := ExtractOwnerRepo(repoURL)
	if err != nil {
		return err
	}
	_, err = c.run(ctx, "issue", "close", fmt.Sprintf("%d", issueNumber),
		"--repo", fmt.Sprintf("%s/%s", owner, repo))
	return err
}
