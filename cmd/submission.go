package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scarablabs/scarab/internal/models"
	"github.com/scarablabs/scarab/internal/output"
	"github.com/scarablabs/scarab/internal/store"
)

var (
	submissionRepo   string
	submissionStatus string
	submissionLimit  int
)

var submissionCmd = &cobra.Command{
	Use:     "submission",
	Aliases: []string{"sub"},
	Short:   "Inspect bug report submissions",
}

var submissionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return submissionListRun()
	},
}

var submissionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show full detail for one submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submissionShowRun(args[0])
	},
}

func init() {
	submissionListCmd.Flags().StringVar(&submissionRepo, "repo", "", "Filter by repo id or GitHub URL")
	submissionListCmd.Flags().StringVar(&submissionStatus, "status", "", "Filter by status (judging, paying, paid, rejected, failed)")
	submissionListCmd.Flags().IntVar(&submissionLimit, "limit", 50, "Maximum number of rows")

	submissionCmd.AddCommand(submissionListCmd)
	submissionCmd.AddCommand(submissionShowCmd)
	rootCmd.AddCommand(submissionCmd)
}

func submissionListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.SubmissionListFilter{Limit: submissionLimit}
	if submissionRepo != "" {
		repo, err := resolveRepo(ctx, submissionRepo)
		if err != nil {
			return err
		}
		filter.RepoID = repo.ID
	}
	if submissionStatus != "" {
		filter.Statuses = []models.SubmissionStatus{models.SubmissionStatus(submissionStatus)}
	}

	subs, err := s.ListSubmissions(ctx, filter)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		ui.Info("No submissions found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Issue", "Title", "Status", "Severity", "Bounty", "Wallet"})
	for _, sub := range subs {
		bounty := ""
		if !sub.BountyAmount.IsZero() {
			bounty = sub.BountyAmount.String()
		}
		table.Append([]string{
			sub.ID,
			"#" + sub.GitHubIssueID,
			truncate(sub.IssueTitle, 40),
			output.StatusColor(string(sub.Status)),
			output.SeverityColor(string(sub.Severity)),
			bounty,
			shortWallet(sub.SubmitterWallet),
		})
	}
	table.Render()
	return nil
}

func submissionShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sub, err := s.GetSubmission(context.Background(), id)
	if err != nil {
		return err
	}
	repo, err := s.GetRepo(context.Background(), sub.RepoID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n\n", output.Cyan("Submission"), sub.ID)
	fmt.Fprintf(ui.Out, "  Repo:      %s (issue #%s)\n", repo.RepoURL, sub.GitHubIssueID)
	fmt.Fprintf(ui.Out, "  Title:     %s\n", sub.IssueTitle)
	fmt.Fprintf(ui.Out, "  Status:    %s\n", output.StatusColor(string(sub.Status)))
	if sub.Verdict != "" {
		fmt.Fprintf(ui.Out, "  Verdict:   %s\n", sub.Verdict)
	}
	if sub.Severity != "" {
		fmt.Fprintf(ui.Out, "  Severity:  %s\n", output.SeverityColor(string(sub.Severity)))
	}
	if !sub.BountyAmount.IsZero() {
		fmt.Fprintf(ui.Out, "  Bounty:    %s\n", sub.BountyAmount.String())
	}
	fmt.Fprintf(ui.Out, "  Wallet:    %s\n", sub.SubmitterWallet)
	if sub.TxHash != "" {
		fmt.Fprintf(ui.Out, "  Tx:        %s\n", sub.TxHash)
	}
	if sub.AIReason != "" {
		fmt.Fprintf(ui.Out, "  Reason:    %s\n", sub.AIReason)
	}
	fmt.Fprintf(ui.Out, "  Created:   %s\n", sub.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(ui.Out, "  Updated:   %s\n", sub.UpdatedAt.Format("2006-01-02 15:04:05"))

	if sub.IssueBody != "" {
		fmt.Fprintf(ui.Out, "\n%s\n%s\n", output.Cyan("Report"), sub.IssueBody)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max-3]) + "..."
}

func shortWallet(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
