// Package notify posts submission feedback back to the issue tracker.
// Everything here is best-effort: a lost comment or label never blocks or
// fails the pipeline, it is logged and forgotten.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scarablabs/scarab/internal/github"
	"github.com/scarablabs/scarab/internal/models"
)

const (
	LabelPaid     = "scarab:paid"
	LabelRejected = "scarab:rejected"
	LabelFailed   = "scarab:failed"
)

// Publisher posts feedback for submission lifecycle events.
type Publisher struct {
	tracker github.Client
	timeout time.Duration
}

// NewPublisher creates a publisher. The timeout bounds each individual
// tracker call.
func NewPublisher(tracker github.Client, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{tracker: tracker, timeout: timeout}
}

// Received acknowledges intake of a new submission.
func (p *Publisher) Received(ctx context.Context, repoURL string, issueNumber int, submissionID string) {
	body := fmt.Sprintf("🔍 **Bug report received.** Submission `%s` is being judged against the source code. You will get a verdict here shortly.", submissionID)
	p.comment(ctx, repoURL, issueNumber, body)
}

// MissingWallet tells the reporter how to make the report payable.
func (p *Publisher) MissingWallet(ctx context.Context, repoURL string, issueNumber int) {
	body := "⚠️ **No wallet address found.** Add a line like `Wallet: 0x...` (40 hex characters) to the issue body and open a new issue. Reports without a wallet cannot be paid."
	p.comment(ctx, repoURL, issueNumber, body)
}

// Duplicate tells the reporter their report matched an existing one,
// citing the matched title so they can compare.
func (p *Publisher) Duplicate(ctx context.Context, repoURL string, issueNumber int, existingIssueID, existingTitle string) {
	body := fmt.Sprintf("⚠️ **Duplicate report.** This looks like issue #%s (\"%s\"), which is already in the pipeline. If your bug is genuinely different, open a new issue with a more specific title.", existingIssueID, existingTitle)
	p.comment(ctx, repoURL, issueNumber, body)
}

// Rejected reports an invalid verdict with the judge's reason.
func (p *Publisher) Rejected(ctx context.Context, sub *models.Submission, repoURL string, issueNumber int) {
	body := fmt.Sprintf("❌ **Report rejected.** %s\n\nNo bounty will be paid for this report.", sub.AIReason)
	p.comment(ctx, repoURL, issueNumber, body)
	p.label(ctx, repoURL, issueNumber, LabelRejected, "d73a4a", "Bug report judged invalid")
}

// Paid reports a completed payout, labels the issue, and closes it.
func (p *Publisher) Paid(ctx context.Context, sub *models.Submission, repoURL string, issueNumber int, currency string) {
	body := fmt.Sprintf("✅ **Bounty paid!** Verdict: valid (%s severity). %s %s sent to `%s`.\n\nTransaction: `%s`", sub.Severity, sub.BountyAmount.String(), currency, sub.SubmitterWallet, sub.TxHash)
	p.comment(ctx, repoURL, issueNumber, body)
	p.label(ctx, repoURL, issueNumber, LabelPaid, "0e8a16", "Bounty paid")
	p.close(ctx, repoURL, issueNumber)
}

// Failed reports a valid verdict whose payout did not complete.
func (p *Publisher) Failed(ctx context.Context, sub *models.Submission, repoURL string, issueNumber int) {
	body := fmt.Sprintf("⚠️ **Payout failed.** The report was judged valid (%s severity, %s) but the transfer did not complete. The maintainers have been notified.", sub.Severity, sub.BountyAmount.String())
	p.comment(ctx, repoURL, issueNumber, body)
	p.label(ctx, repoURL, issueNumber, LabelFailed, "fbca04", "Bounty payout failed")
}

func (p *Publisher) comment(ctx context.Context, repoURL string, issueNumber int, body string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.tracker.PostComment(ctx, repoURL, issueNumber, body); err != nil {
		slog.Warn("post comment failed", "repo", repoURL, "issue", issueNumber, "error", err)
	}
}

func (p *Publisher) label(ctx context.Context, repoURL string, issueNumber int, name, color, description string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.tracker.EnsureLabel(ctx, repoURL, name, color, description); err != nil {
		slog.Warn("ensure label failed", "repo", repoURL, "label", name, "error", err)
		return
	}
	if err := p.tracker.AddLabel(ctx, repoURL, issueNumber, name); err != nil {
		slog.Warn("add label failed", "repo", repoURL, "issue", issueNumber, "label", name, "error", err)
	}
}

func (p *Publisher) close(ctx context.Context, repoURL string, issueNumber int) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.tracker.CloseIssue(ctx, repoURL, issueNumber); err != nil {
		slog.Warn("close issue failed", "repo", repoURL, "issue", issueNumber, "error", err)
	}
}
