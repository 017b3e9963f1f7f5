package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/scarablabs/scarab/internal/models"
)

type fakeTracker struct {
	comments  []string
	labels    []string
	closed    []int
	failAll   bool
	labelErrs map[string]error
}

func (f *fakeTracker) CodeSample(ctx context.Context, repoURL string) (string, error) {
	return "", nil
}

func (f *fakeTracker) PostComment(ctx context.Context, repoURL string, issueNumber int, body string) error {
	if f.failAll {
		return errors.New("tracker down")
	}
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeTracker) EnsureLabel(ctx context.Context, repoURL, name, color, description string) error {
	if f.failAll {
		return errors.New("tracker down")
	}
	if err, ok := f.labelErrs[name]; ok {
		return err
	}
	return nil
}

func (f *fakeTracker) AddLabel(ctx context.Context, repoURL string, issueNumber int, label string) error {
	if f.failAll {
		return errors.New("tracker down")
	}
	f.labels = append(f.labels, label)
	return nil
}

func (f *fakeTracker) CloseIssue(ctx context.Context, repoURL string, issueNumber int) error {
	if f.failAll {
		return errors.New("tracker down")
	}
	f.closed = append(f.closed, issueNumber)
	return nil
}

func paidSubmission() *models.Submission {
	return &models.Submission{
		ID:              "01ABC",
		Severity:        models.SeverityHigh,
		BountyAmount:    decimal.RequireFromString("0.5"),
		SubmitterWallet: "0x1111111111111111111111111111111111111111",
		TxHash:          "0xdeadbeef",
		AIReason:        "verified in source",
	}
}

func TestPaidCommentsLabelsAndCloses(t *testing.T) {
	tracker := &fakeTracker{}
	p := NewPublisher(tracker, time.Second)

	p.Paid(context.Background(), paidSubmission(), "https://github.com/acme/widgets", 7, "USDC")

	assert.Len(t, tracker.comments, 1)
	assert.Contains(t, tracker.comments[0], "0.5 USDC")
	assert.Contains(t, tracker.comments[0], "0xdeadbeef")
	assert.Equal(t, []string{LabelPaid}, tracker.labels)
	assert.Equal(t, []int{7}, tracker.closed)
}

func TestDuplicateCitesMatchedTitle(t *testing.T) {
	tracker := &fakeTracker{}
	p := NewPublisher(tracker, time.Second)

	p.Duplicate(context.Background(), "https://github.com/acme/widgets", 8, "42", "Null pointer error at checkout")

	assert.Len(t, tracker.comments, 1)
	assert.Contains(t, tracker.comments[0], "issue #42")
	assert.Contains(t, tracker.comments[0], "Null pointer error at checkout")
}

func TestRejectedDoesNotClose(t *testing.T) {
	tracker := &fakeTracker{}
	p := NewPublisher(tracker, time.Second)

	sub := paidSubmission()
	sub.AIReason = "bug not present in code"
	p.Rejected(context.Background(), sub, "https://github.com/acme/widgets", 7)

	assert.Contains(t, tracker.comments[0], "bug not present in code")
	assert.Equal(t, []string{LabelRejected}, tracker.labels)
	assert.Empty(t, tracker.closed)
}

func TestFailedDoesNotClose(t *testing.T) {
	tracker := &fakeTracker{}
	p := NewPublisher(tracker, time.Second)

	p.Failed(context.Background(), paidSubmission(), "https://github.com/acme/widgets", 7)

	assert.Equal(t, []string{LabelFailed}, tracker.labels)
	assert.Empty(t, tracker.closed)
}

func TestPublisherSwallowsTrackerErrors(t *testing.T) {
	tracker := &fakeTracker{failAll: true}
	p := NewPublisher(tracker, time.Second)

	// None of these may panic or propagate an error.
	p.Received(context.Background(), "https://github.com/acme/widgets", 1, "01ABC")
	p.MissingWallet(context.Background(), "https://github.com/acme/widgets", 1)
	p.Duplicate(context.Background(), "https://github.com/acme/widgets", 1, "42", "Crash on login")
	p.Rejected(context.Background(), paidSubmission(), "https://github.com/acme/widgets", 1)
	p.Paid(context.Background(), paidSubmission(), "https://github.com/acme/widgets", 1, "USDC")
	p.Failed(context.Background(), paidSubmission(), "https://github.com/acme/widgets", 1)
}

func TestLabelSkippedWhenEnsureFails(t *testing.T) {
	tracker := &fakeTracker{labelErrs: map[string]error{LabelPaid: errors.New("forbidden")}}
	p := NewPublisher(tracker, time.Second)

	p.Paid(context.Background(), paidSubmission(), "https://github.com/acme/widgets", 7, "USDC")

	assert.Empty(t, tracker.labels)
	assert.Equal(t, []int{7}, tracker.closed)
}
