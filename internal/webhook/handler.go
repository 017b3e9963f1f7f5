// Package webhook receives GitHub issue events and turns registered,
// payable, non-duplicate bug reports into submissions.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/scarablabs/scarab/internal/dedupe"
	"github.com/scarablabs/scarab/internal/models"
	"github.com/scarablabs/scarab/internal/store"
)

const maxPayloadBytes = 5 << 20

// Enqueuer hands accepted submissions to the pipeline. Enqueue reports
// whether the submission was queued; a full queue returns false.
type Enqueuer interface {
	Enqueue(submissionID string) bool
}

// Notifier is the feedback surface the handler needs.
type Notifier interface {
	Received(ctx context.Context, repoURL string, issueNumber int, submissionID string)
	MissingWallet(ctx context.Context, repoURL string, issueNumber int)
	Duplicate(ctx context.Context, repoURL string, issueNumber int, existingIssueID, existingTitle string)
}

// Handler is the webhook intake endpoint.
type Handler struct {
	store    store.Store
	detector *dedupe.Detector
	notifier Notifier
	queue    Enqueuer
	secret   string
}

// NewHandler creates the intake handler. An empty secret disables
// signature verification.
func NewHandler(s store.Store, detector *dedupe.Detector, notifier Notifier, queue Enqueuer, secret string) *Handler {
	return &Handler{store: s, detector: detector, notifier: notifier, queue: queue, secret: secret}
}

// issueEvent is the subset of the GitHub issues event payload we consume.
type issueEvent struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	Repository struct {
		HTMLURL string `json:"html_url"`
	} `json:"repository"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if !VerifySignature(payload, r.Header.Get("X-Hub-Signature-256"), h.secret) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event issueEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if r.Header.Get("X-GitHub-Event") != "issues" || event.Action != "opened" {
		writeJSON(w, http.StatusOK, map[string]string{"message": "ignored"})
		return
	}

	repoURL := event.Repository.HTMLURL
	repo, err := h.store.GetRepoByURL(ctx, repoURL)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			// Unregistered repos are acknowledged so GitHub stops
			// retrying the delivery.
			writeJSON(w, http.StatusOK, map[string]string{"message": "repository not registered"})
			return
		}
		slog.Error("repo lookup failed", "repo", repoURL, "error", err)
		writeError(w, http.StatusInternalServerError, "repository lookup failed")
		return
	}

	wallet := ExtractWallet(event.Issue.Body)
	if wallet == "" {
		h.notifier.MissingWallet(ctx, repoURL, event.Issue.Number)
		writeError(w, http.StatusBadRequest, "no wallet address found in issue; add a line like `Wallet: 0x...` to the issue body")
		return
	}

	dup, err := h.detector.FindDuplicate(ctx, repo.ID, event.Issue.Title)
	if err != nil {
		slog.Error("duplicate check failed", "repo", repoURL, "error", err)
		writeError(w, http.StatusInternalServerError, "duplicate check failed")
		return
	}
	if dup != nil {
		h.notifier.Duplicate(ctx, repoURL, event.Issue.Number, dup.GitHubIssueID, dup.IssueTitle)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("duplicate of issue #%s (\"%s\"); open a new issue with a more specific title if this is a different bug", dup.GitHubIssueID, dup.IssueTitle))
		return
	}

	sub := &models.Submission{
		RepoID:          repo.ID,
		GitHubIssueID:   strconv.Itoa(event.Issue.Number),
		IssueTitle:      event.Issue.Title,
		IssueBody:       event.Issue.Body,
		SubmitterWallet: wallet,
	}
	if err := h.store.CreateSubmission(ctx, sub); err != nil {
		slog.Error("create submission failed", "repo", repoURL, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record submission")
		return
	}

	h.notifier.Received(ctx, repoURL, event.Issue.Number, sub.ID)

	if !h.queue.Enqueue(sub.ID) {
		// The submission stays in judging until a restart or manual
		// requeue. Intake still succeeded.
		slog.Warn("pipeline queue full, submission not enqueued", "submission", sub.ID)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "submission received", "id": sub.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
