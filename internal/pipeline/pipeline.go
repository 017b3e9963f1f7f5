// Package pipeline drives accepted submissions through judgment and
// settlement on a supervised worker pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scarablabs/scarab/internal/judge"
	"github.com/scarablabs/scarab/internal/models"
	"github.com/scarablabs/scarab/internal/store"
)

// Judger produces a verdict for a report. Implementations never fail; a
// broken judge resolves to an invalid verdict.
type Judger interface {
	Judge(ctx context.Context, title, body, codeSample string) judge.Result
}

// Settler transfers a bounty and returns the transaction hash.
type Settler interface {
	Send(ctx context.Context, to string, amount decimal.Decimal, currency string) (string, error)
}

// Sampler fetches judging evidence from the repository.
type Sampler interface {
	CodeSample(ctx context.Context, repoURL string) (string, error)
}

// Notifier is the feedback surface for terminal states.
type Notifier interface {
	Rejected(ctx context.Context, sub *models.Submission, repoURL string, issueNumber int)
	Paid(ctx context.Context, sub *models.Submission, repoURL string, issueNumber int, currency string)
	Failed(ctx context.Context, sub *models.Submission, repoURL string, issueNumber int)
}

// Config tunes the orchestrator.
type Config struct {
	Workers       int
	QueueSize     int
	JudgeTimeout  time.Duration
	PayoutTimeout time.Duration
	Currency      string
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 4
	}
	if c.QueueSize < 1 {
		c.QueueSize = 64
	}
	if c.JudgeTimeout <= 0 {
		c.JudgeTimeout = 15 * time.Second
	}
	if c.PayoutTimeout <= 0 {
		c.PayoutTimeout = 30 * time.Second
	}
	if c.Currency == "" {
		c.Currency = "USDC"
	}
	return c
}

// Orchestrator owns the submission queue and worker pool.
type Orchestrator struct {
	store    store.Store
	judger   Judger
	settler  Settler
	sampler  Sampler
	notifier Notifier
	cfg      Config
	queue    chan string
}

// New creates an orchestrator. Run must be called before enqueued
// submissions are processed.
func New(s store.Store, judger Judger, settler Settler, sampler Sampler, notifier Notifier, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		store:    s,
		judger:   judger,
		settler:  settler,
		sampler:  sampler,
		notifier: notifier,
		cfg:      cfg,
		queue:    make(chan string, cfg.QueueSize),
	}
}

// Enqueue hands a submission id to the pool without blocking. It reports
// false when the queue is full; the submission stays in judging.
func (o *Orchestrator) Enqueue(submissionID string) bool {
	select {
	case o.queue <- submissionID:
		return true
	default:
		return false
	}
}

// Run blocks, processing queued submissions on the worker pool until ctx
// is cancelled and the workers have drained.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			o.worker(ctx, idx)
		}(i)
	}
	wg.Wait()
}

func (o *Orchestrator) worker(ctx context.Context, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-o.queue:
			o.run(ctx, idx, id)
		}
	}
}

// run shields the pool from a panicking unit of work.
func (o *Orchestrator) run(ctx context.Context, idx int, id string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panic", "worker", idx, "submission", id, "panic", r)
		}
	}()
	if err := o.Process(ctx, id); err != nil {
		slog.Error("submission processing failed", "worker", idx, "submission", id, "error", err)
	}
}

// Process judges one submission and, when the verdict is valid, settles
// it. It is a no-op for submissions no longer in judging, so a duplicate
// enqueue cannot double-pay.
func (o *Orchestrator) Process(ctx context.Context, submissionID string) error {
	sub, err := o.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if sub.Status != models.SubmissionStatusJudging {
		slog.Debug("skipping submission not in judging", "submission", sub.ID, "status", sub.Status)
		return nil
	}

	repo, err := o.store.GetRepo(ctx, sub.RepoID)
	if err != nil {
		return fmt.Errorf("load repo: %w", err)
	}

	issueNumber, err := strconv.Atoi(sub.GitHubIssueID)
	if err != nil {
		return fmt.Errorf("bad issue id %q: %w", sub.GitHubIssueID, err)
	}

	result := o.runJudgment(ctx, sub, repo.RepoURL)

	sub.Verdict = result.Verdict
	sub.Severity = result.Severity
	sub.AIReason = result.Reason
	if result.Verdict == models.VerdictValid {
		sub.BountyAmount = result.BountyAmount
		sub.Status = models.SubmissionStatusPaying
	} else {
		sub.BountyAmount = decimal.Zero
		sub.Status = models.SubmissionStatusRejected
	}
	if err := o.store.UpdateSubmission(ctx, sub); err != nil {
		return fmt.Errorf("persist verdict: %w", err)
	}

	if sub.Status == models.SubmissionStatusRejected {
		o.notifier.Rejected(ctx, sub, repo.RepoURL, issueNumber)
		return nil
	}

	return o.settle(ctx, sub, repo.RepoURL, issueNumber)
}

func (o *Orchestrator) runJudgment(ctx context.Context, sub *models.Submission, repoURL string) judge.Result {
	sampleCtx, cancel := context.WithTimeout(ctx, o.cfg.JudgeTimeout)
	defer cancel()
	sample, err := o.sampler.CodeSample(sampleCtx, repoURL)
	if err != nil {
		// Judging proceeds without evidence; an unverifiable report
		// will simply be rejected.
		slog.Warn("code sample fetch failed", "submission", sub.ID, "repo", repoURL, "error", err)
		sample = ""
	}

	judgeCtx, cancel := context.WithTimeout(ctx, o.cfg.JudgeTimeout)
	defer cancel()
	return o.judger.Judge(judgeCtx, sub.IssueTitle, sub.IssueBody, sample)
}

// settle makes the single payout attempt. Whatever the rail returned is
// recorded before the terminal state so a failure still leaves a
// reference to reconcile against.
func (o *Orchestrator) settle(ctx context.Context, sub *models.Submission, repoURL string, issueNumber int) error {
	payCtx, cancel := context.WithTimeout(ctx, o.cfg.PayoutTimeout)
	defer cancel()

	txHash, sendErr := o.settler.Send(payCtx, sub.SubmitterWallet, sub.BountyAmount, o.cfg.Currency)
	sub.TxHash = txHash
	if sendErr != nil {
		sub.Status = models.SubmissionStatusFailed
		slog.Error("payout failed", "submission", sub.ID, "wallet", sub.SubmitterWallet, "error", sendErr)
	} else {
		sub.Status = models.SubmissionStatusPaid
	}
	if err := o.store.UpdateSubmission(ctx, sub); err != nil {
		return fmt.Errorf("persist settlement: %w", err)
	}

	if sub.Status == models.SubmissionStatusPaid {
		o.notifier.Paid(ctx, sub, repoURL, issueNumber, o.cfg.Currency)
	} else {
		o.notifier.Failed(ctx, sub, repoURL, issueNumber)
	}
	return nil
}
