package store

import (
	"context"

	"github.com/scarablabs/scarab/internal/models"
)

// SubmissionListFilter specifies filters for listing submissions.
type SubmissionListFilter struct {
	RepoID   string
	Statuses []models.SubmissionStatus
	Limit    int
}

// Store defines the persistence interface for scarab.
type Store interface {
	// Repos
	CreateRepo(ctx context.Context, r *models.Repo) error
	GetRepo(ctx context.Context, id string) (*models.Repo, error)
	GetRepoByURL(ctx context.Context, repoURL string) (*models.Repo, error)
	ListRepos(ctx context.Context) ([]*models.Repo, error)
	DeleteRepo(ctx context.Context, id string) error

	// Submissions
	CreateSubmission(ctx context.Context, sub *models.Submission) error
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionListFilter) ([]*models.Submission, error)
	UpdateSubmission(ctx context.Context, sub *models.Submission) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
