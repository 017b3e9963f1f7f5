// Package mcp exposes the bounty data layer as read-only MCP tools so
// agents can inspect campaigns and submissions without touching the REST
// API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/scarablabs/scarab/internal/models"
	"github.com/scarablabs/scarab/internal/store"
)

// Server wraps the scarab data layer and exposes it as MCP tools.
type Server struct {
	store store.Store
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("scarab", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listReposTool())
	srv.AddTool(s.listSubmissionsTool())
	srv.AddTool(s.getSubmissionTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// scarab_list_repos
func (s *Server) listReposTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scarab_list_repos",
		mcp.WithDescription("List all registered bounty repositories. Returns a JSON array with id, repo_url, owner_wallet, category, and description."),
	)
	return tool, s.handleListRepos
}

func (s *Server) handleListRepos(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := s.store.ListRepos(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list repos: %v", err)), nil
	}

	type repoOut struct {
		ID          string `json:"id"`
		RepoURL     string `json:"repo_url"`
		OwnerWallet string `json:"owner_wallet"`
		Category    string `json:"category"`
		Description string `json:"description"`
	}

	out := make([]repoOut, len(repos))
	for i, r := range repos {
		out[i] = repoOut{
			ID:          r.ID,
			RepoURL:     r.RepoURL,
			OwnerWallet: r.OwnerWallet,
			Category:    r.Category,
			Description: r.Description,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal repos: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// submissionOut is the wire shape shared by the submission tools.
type submissionOut struct {
	ID              string `json:"id"`
	RepoID          string `json:"repo_id"`
	GitHubIssueID   string `json:"github_issue_id"`
	IssueTitle      string `json:"issue_title"`
	SubmitterWallet string `json:"submitter_wallet"`
	Status          string `json:"status"`
	Verdict         string `json:"verdict,omitempty"`
	Severity        string `json:"severity,omitempty"`
	BountyAmount    string `json:"bounty_amount"`
	Reason          string `json:"reason,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`
}

func toSubmissionOut(sub *models.Submission) submissionOut {
	return submissionOut{
		ID:              sub.ID,
		RepoID:          sub.RepoID,
		GitHubIssueID:   sub.GitHubIssueID,
		IssueTitle:      sub.IssueTitle,
		SubmitterWallet: sub.SubmitterWallet,
		Status:          string(sub.Status),
		Verdict:         string(sub.Verdict),
		Severity:        string(sub.Severity),
		BountyAmount:    sub.BountyAmount.String(),
		Reason:          sub.AIReason,
		TxHash:          sub.TxHash,
	}
}

// scarab_list_submissions
func (s *Server) listSubmissionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scarab_list_submissions",
		mcp.WithDescription("List bug report submissions, newest first. Returns a JSON array with status, verdict, severity, bounty amount, and transaction hash."),
		mcp.WithString("repo_id", mcp.Description("Filter by repository id")),
		mcp.WithString("status", mcp.Description("Filter by status: judging, paying, paid, rejected, or failed")),
		mcp.WithNumber("limit", mcp.Description("Maximum results to return (default 50)")),
	)
	return tool, s.handleListSubmissions
}

func (s *Server) handleListSubmissions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.SubmissionListFilter{
		RepoID: request.GetString("repo_id", ""),
		Limit:  request.GetInt("limit", 50),
	}
	if status := request.GetString("status", ""); status != "" {
		filter.Statuses = []models.SubmissionStatus{models.SubmissionStatus(status)}
	}

	subs, err := s.store.ListSubmissions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list submissions: %v", err)), nil
	}

	out := make([]submissionOut, len(subs))
	for i, sub := range subs {
		out[i] = toSubmissionOut(sub)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal submissions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// scarab_get_submission
func (s *Server) getSubmissionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scarab_get_submission",
		mcp.WithDescription("Get one submission by id, including the issue body and the judge's reason."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Submission id")),
	)
	return tool, s.handleGetSubmission
}

func (s *Server) handleGetSubmission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submission not found: %s", id)), nil
	}

	out := struct {
		submissionOut
		IssueBody string `json:"issue_body"`
	}{toSubmissionOut(sub), sub.IssueBody}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal submission: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
