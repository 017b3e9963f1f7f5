package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarablabs/scarab/internal/models"
	"github.com/scarablabs/scarab/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return NewServer(s), s
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

const wallet = "0x1234567890abcdef1234567890abcdef12345678"

func seedRepo(t *testing.T, s store.Store, url string) *models.Repo {
	t.Helper()
	repo := &models.Repo{RepoURL: url, OwnerWallet: wallet, Category: "defi"}
	require.NoError(t, s.CreateRepo(context.Background(), repo))
	return repo
}

func seedSubmission(t *testing.T, s store.Store, repoID, title string, status models.SubmissionStatus) *models.Submission {
	t.Helper()
	sub := &models.Submission{
		RepoID:          repoID,
		GitHubIssueID:   "1",
		IssueTitle:      title,
		IssueBody:       "Steps...",
		SubmitterWallet: wallet,
	}
	require.NoError(t, s.CreateSubmission(context.Background(), sub))
	if status != models.SubmissionStatusJudging {
		sub.Status = status
		sub.BountyAmount = decimal.RequireFromString("0.3")
		require.NoError(t, s.UpdateSubmission(context.Background(), sub))
	}
	return sub
}

func TestMCPServerRegistersTools(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.NotNil(t, srv.MCPServer())
}

func TestHandleListRepos(t *testing.T) {
	srv, s := newTestServer(t)
	seedRepo(t, s, "https://github.com/acme/widgets")

	result, err := srv.handleListRepos(context.Background(), callToolReq("scarab_list_repos", nil))
	require.NoError(t, err)

	var repos []map[string]any
	resultJSON(t, result, &repos)
	require.Len(t, repos, 1)
	assert.Equal(t, "https://github.com/acme/widgets", repos[0]["repo_url"])
	assert.Equal(t, "defi", repos[0]["category"])
}

func TestHandleListSubmissions(t *testing.T) {
	srv, s := newTestServer(t)
	repo := seedRepo(t, s, "https://github.com/acme/widgets")
	seedSubmission(t, s, repo.ID, "Crash on login", models.SubmissionStatusPaid)
	seedSubmission(t, s, repo.ID, "Memory leak", models.SubmissionStatusJudging)

	result, err := srv.handleListSubmissions(context.Background(), callToolReq("scarab_list_submissions", nil))
	require.NoError(t, err)

	var subs []map[string]any
	resultJSON(t, result, &subs)
	assert.Len(t, subs, 2)
}

func TestHandleListSubmissions_StatusFilter(t *testing.T) {
	srv, s := newTestServer(t)
	repo := seedRepo(t, s, "https://github.com/acme/widgets")
	seedSubmission(t, s, repo.ID, "Crash on login", models.SubmissionStatusPaid)
	seedSubmission(t, s, repo.ID, "Memory leak", models.SubmissionStatusJudging)

	result, err := srv.handleListSubmissions(context.Background(),
		callToolReq("scarab_list_submissions", map[string]any{"status": "paid"}))
	require.NoError(t, err)

	var subs []map[string]any
	resultJSON(t, result, &subs)
	require.Len(t, subs, 1)
	assert.Equal(t, "Crash on login", subs[0]["issue_title"])
	assert.Equal(t, "0.3", subs[0]["bounty_amount"])
}

func TestHandleGetSubmission(t *testing.T) {
	srv, s := newTestServer(t)
	repo := seedRepo(t, s, "https://github.com/acme/widgets")
	sub := seedSubmission(t, s, repo.ID, "Crash on login", models.SubmissionStatusJudging)

	result, err := srv.handleGetSubmission(context.Background(),
		callToolReq("scarab_get_submission", map[string]any{"id": sub.ID}))
	require.NoError(t, err)

	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, sub.ID, out["id"])
	assert.Equal(t, "Steps...", out["issue_body"])
}

func TestHandleGetSubmission_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleGetSubmission(context.Background(),
		callToolReq("scarab_get_submission", map[string]any{"id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetSubmission_MissingID(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleGetSubmission(context.Background(),
		callToolReq("scarab_get_submission", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
