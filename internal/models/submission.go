package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmissionStatus represents the lifecycle state of a submission.
type SubmissionStatus string

const (
	SubmissionStatusJudging  SubmissionStatus = "judging"
	SubmissionStatusPaying   SubmissionStatus = "paying"
	SubmissionStatusPaid     SubmissionStatus = "paid"
	SubmissionStatusRejected SubmissionStatus = "rejected"
	SubmissionStatusFailed   SubmissionStatus = "failed"
)

// Terminal reports whether no further transitions occur from this status.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case SubmissionStatusPaid, SubmissionStatusRejected, SubmissionStatusFailed:
		return true
	}
	return false
}

// Verdict is the judge's accept/reject decision on a submission.
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
)

// Severity is the impact tier used to select the bounty amount.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Submission represents one bug report attempt against a registered repo.
//
// BountyAmount is non-zero only when Verdict is valid. TxHash is set only
// after a settlement attempt has been made, whether or not it succeeded.
type Submission struct {
	ID              string
	RepoID          string
	GitHubIssueID   string // issue number as reported by the webhook
	IssueTitle      string
	IssueBody       string
	SubmitterWallet string
	Status          SubmissionStatus
	Verdict         Verdict  // empty until judged
	Severity        Severity // empty unless verdict is valid
	BountyAmount    decimal.Decimal
	AIReason        string
	TxHash          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
