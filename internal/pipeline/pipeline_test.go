package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarablabs/scarab/internal/judge"
	"github.com/scarablabs/scarab/internal/models"
	"github.com/scarablabs/scarab/internal/store"
)

type fakeJudge struct {
	result     judge.Result
	lastSample string
	calls      int
}

func (f *fakeJudge) Judge(ctx context.Context, title, body, codeSample string) judge.Result {
	f.calls++
	f.lastSample = codeSample
	return f.result
}

type fakeSettler struct {
	txHash string
	err    error
	calls  int
	lastTo string
	amount decimal.Decimal
}

func (f *fakeSettler) Send(ctx context.Context, to string, amount decimal.Decimal, currency string) (string, error) {
	f.calls++
	f.lastTo = to
	f.amount = amount
	return f.txHash, f.err
}

type fakeSampler struct {
	sample string
	err    error
}

func (f *fakeSampler) CodeSample(ctx context.Context, repoURL string) (string, error) {
	return f.sample, f.err
}

type fakeNotifier struct {
	rejected, paid, failed int
}

func (f *fakeNotifier) Rejected(ctx context.Context, sub *models.Submission, repoURL string, issueNumber int) {
	f.rejected++
}

func (f *fakeNotifier) Paid(ctx context.Context, sub *models.Submission, repoURL string, issueNumber int, currency string) {
	f.paid++
}

func (f *fakeNotifier) Failed(ctx context.Context, sub *models.Submission, repoURL string, issueNumber int) {
	f.failed++
}

type fixture struct {
	orch     *Orchestrator
	store    store.Store
	judge    *fakeJudge
	settler  *fakeSettler
	sampler  *fakeSampler
	notifier *fakeNotifier
	sub      *models.Submission
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	repo := &models.Repo{
		RepoURL:     "https://github.com/acme/widgets",
		OwnerWallet: "0x9999999999999999999999999999999999999999",
	}
	require.NoError(t, s.CreateRepo(context.Background(), repo))

	sub := &models.Submission{
		RepoID:          repo.ID,
		GitHubIssueID:   "7",
		IssueTitle:      "Double charge on checkout",
		IssueBody:       "Steps...\nWallet: 0x1234567890abcdef1234567890abcdef12345678",
		SubmitterWallet: "0x1234567890abcdef1234567890abcdef12345678",
	}
	require.NoError(t, s.CreateSubmission(context.Background(), sub))

	fx := &fixture{
		store:    s,
		judge:    &fakeJudge{},
		settler:  &fakeSettler{txHash: "0xabc"},
		sampler:  &fakeSampler{sample: "func main() {}"},
		notifier: &fakeNotifier{},
		sub:      sub,
	}
	fx.orch = New(s, fx.judge, fx.settler, fx.sampler, fx.notifier, Config{})
	return fx
}

func validResult(sev models.Severity, amount string) judge.Result {
	return judge.Result{
		Verdict:      models.VerdictValid,
		Severity:     sev,
		Reason:       "verified in source",
		BountyAmount: decimal.RequireFromString(amount),
	}
}

func (fx *fixture) reload(t *testing.T) *models.Submission {
	t.Helper()
	sub, err := fx.store.GetSubmission(context.Background(), fx.sub.ID)
	require.NoError(t, err)
	return sub
}

func TestProcessValidVerdictPays(t *testing.T) {
	fx := newFixture(t)
	fx.judge.result = validResult(models.SeverityHigh, "0.5")

	require.NoError(t, fx.orch.Process(context.Background(), fx.sub.ID))

	got := fx.reload(t)
	assert.Equal(t, models.SubmissionStatusPaid, got.Status)
	assert.Equal(t, models.VerdictValid, got.Verdict)
	assert.Equal(t, models.SeverityHigh, got.Severity)
	assert.True(t, got.BountyAmount.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "0xabc", got.TxHash)

	assert.Equal(t, fx.sub.SubmitterWallet, fx.settler.lastTo)
	assert.True(t, fx.settler.amount.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "func main() {}", fx.judge.lastSample)
	assert.Equal(t, 1, fx.notifier.paid)
	assert.Zero(t, fx.notifier.rejected)
	assert.Zero(t, fx.notifier.failed)
}

func TestProcessInvalidVerdictRejects(t *testing.T) {
	fx := newFixture(t)
	fx.judge.result = judge.Result{
		Verdict: models.VerdictInvalid,
		Reason:  "bug not present in code",
	}

	require.NoError(t, fx.orch.Process(context.Background(), fx.sub.ID))

	got := fx.reload(t)
	assert.Equal(t, models.SubmissionStatusRejected, got.Status)
	assert.Equal(t, models.VerdictInvalid, got.Verdict)
	assert.Empty(t, got.Severity)
	assert.True(t, got.BountyAmount.IsZero())
	assert.Equal(t, "bug not present in code", got.AIReason)

	assert.Zero(t, fx.settler.calls)
	assert.Equal(t, 1, fx.notifier.rejected)
}

func TestProcessSettlementFailure(t *testing.T) {
	fx := newFixture(t)
	fx.judge.result = validResult(models.SeverityMedium, "0.3")
	fx.settler.txHash = "0xbroadcast"
	fx.settler.err = errors.New("receipt timeout")

	require.NoError(t, fx.orch.Process(context.Background(), fx.sub.ID))

	got := fx.reload(t)
	assert.Equal(t, models.SubmissionStatusFailed, got.Status)
	// Whatever reference the rail produced is kept for reconciliation.
	assert.Equal(t, "0xbroadcast", got.TxHash)
	assert.True(t, got.BountyAmount.Equal(decimal.RequireFromString("0.3")))
	assert.Equal(t, 1, fx.notifier.failed)
	assert.Zero(t, fx.notifier.paid)
}

func TestProcessSampleFailureStillJudges(t *testing.T) {
	fx := newFixture(t)
	fx.sampler.err = errors.New("repo unreachable")
	fx.judge.result = judge.Result{Verdict: models.VerdictInvalid, Reason: "cannot verify"}

	require.NoError(t, fx.orch.Process(context.Background(), fx.sub.ID))

	assert.Equal(t, 1, fx.judge.calls)
	assert.Empty(t, fx.judge.lastSample)
	assert.Equal(t, models.SubmissionStatusRejected, fx.reload(t).Status)
}

func TestProcessSkipsTerminalSubmission(t *testing.T) {
	fx := newFixture(t)
	fx.judge.result = validResult(models.SeverityLow, "0.1")

	require.NoError(t, fx.orch.Process(context.Background(), fx.sub.ID))
	require.Equal(t, 1, fx.settler.calls)

	// Re-processing a settled submission changes nothing and pays nothing.
	require.NoError(t, fx.orch.Process(context.Background(), fx.sub.ID))
	assert.Equal(t, 1, fx.judge.calls)
	assert.Equal(t, 1, fx.settler.calls)
	assert.Equal(t, models.SubmissionStatusPaid, fx.reload(t).Status)
}

func TestProcessUnknownSubmission(t *testing.T) {
	fx := newFixture(t)
	err := fx.orch.Process(context.Background(), "no-such-id")
	assert.Error(t, err)
}

func TestEnqueueNonBlocking(t *testing.T) {
	fx := newFixture(t)
	fx.orch.cfg.QueueSize = 2
	fx.orch.queue = make(chan string, 2)

	assert.True(t, fx.orch.Enqueue("a"))
	assert.True(t, fx.orch.Enqueue("b"))
	assert.False(t, fx.orch.Enqueue("c"))
}

func TestRunProcessesQueuedSubmissions(t *testing.T) {
	fx := newFixture(t)
	fx.judge.result = validResult(models.SeverityLow, "0.1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.orch.Run(ctx)
		close(done)
	}()

	require.True(t, fx.orch.Enqueue(fx.sub.ID))

	require.Eventually(t, func() bool {
		sub, err := fx.store.GetSubmission(context.Background(), fx.sub.ID)
		return err == nil && sub.Status == models.SubmissionStatusPaid
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker pool did not drain after cancel")
	}
}
