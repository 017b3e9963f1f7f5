package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scarablabs/scarab/internal/models"
	"github.com/scarablabs/scarab/internal/payout"
	"github.com/scarablabs/scarab/internal/store"
)

var walletPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

const repoURLPrefix = "https://github.com/"

// submissionPageSize caps the submissions listing.
const submissionPageSize = 50

// Server provides the REST API handlers.
type Server struct {
	store store.Store
	rail  payout.Rail
	hook  http.Handler
}

// NewServer creates a new API server. The rail may be nil when no payment
// rail is configured; the treasury endpoint then reports unavailable.
func NewServer(s store.Store, rail payout.Rail, hook http.Handler) *Server {
	return &Server{store: s, rail: rail, hook: hook}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/webhook/github", s.hook)

	mux.HandleFunc("GET /api/v1/repos", s.listRepos)
	mux.HandleFunc("POST /api/v1/repos", s.createRepo)
	mux.HandleFunc("GET /api/v1/repos/{id}", s.getRepo)
	mux.HandleFunc("DELETE /api/v1/repos/{id}", s.deleteRepo)

	mux.HandleFunc("GET /api/v1/submissions", s.listSubmissions)
	mux.HandleFunc("GET /api/v1/submissions/{id}", s.getSubmission)

	mux.HandleFunc("GET /api/v1/campaigns", s.listCampaigns)
	mux.HandleFunc("GET /api/v1/treasury", s.treasury)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Repos ---

func (s *Server) listRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepos(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) getRepo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	repo, err := s.store.GetRepo(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) createRepo(w http.ResponseWriter, r *http.Request) {
	var repo models.Repo
	if err := json.NewDecoder(r.Body).Decode(&repo); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if repo.RepoURL == "" || repo.OwnerWallet == "" {
		writeError(w, http.StatusBadRequest, "RepoURL and OwnerWallet are required")
		return
	}
	if !walletPattern.MatchString(repo.OwnerWallet) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	if !strings.HasPrefix(repo.RepoURL, repoURLPrefix) {
		writeError(w, http.StatusBadRequest, "invalid GitHub URL")
		return
	}

	if err := s.store.CreateRepo(r.Context(), &repo); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			writeError(w, http.StatusConflict, "repo already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) deleteRepo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteRepo(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Submissions ---

// submissionView is a submission joined with its repo URL for listings.
type submissionView struct {
	*models.Submission
	RepoURL string
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	filter := store.SubmissionListFilter{Limit: submissionPageSize}
	if repoID := r.URL.Query().Get("repo_id"); repoID != "" {
		filter.RepoID = repoID
	}

	subs, err := s.store.ListSubmissions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	repoURLs := map[string]string{}
	views := make([]submissionView, 0, len(subs))
	for _, sub := range subs {
		url, ok := repoURLs[sub.RepoID]
		if !ok {
			repo, err := s.store.GetRepo(r.Context(), sub.RepoID)
			if err == nil {
				url = repo.RepoURL
			}
			repoURLs[sub.RepoID] = url
		}
		views = append(views, submissionView{Submission: sub, RepoURL: url})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub, err := s.store.GetSubmission(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// --- Campaigns ---

// Campaign is the per-repo bounty program summary.
type Campaign struct {
	ID               string
	RepoURL          string
	RepoName         string
	OwnerWallet      string
	Category         string
	Description      string
	TotalPaid        decimal.Decimal
	ValidBugs        int
	OpenBugs         int
	HighBugs         int
	TotalSubmissions int
	CreatedAt        time.Time
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepos(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	campaigns := make([]Campaign, 0, len(repos))
	for _, repo := range repos {
		subs, err := s.store.ListSubmissions(r.Context(), store.SubmissionListFilter{RepoID: repo.ID})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		c := Campaign{
			ID:               repo.ID,
			RepoURL:          repo.RepoURL,
			RepoName:         strings.TrimPrefix(repo.RepoURL, repoURLPrefix),
			OwnerWallet:      repo.OwnerWallet,
			Category:         repo.Category,
			Description:      repo.Description,
			TotalPaid:        decimal.Zero,
			TotalSubmissions: len(subs),
			CreatedAt:        repo.CreatedAt,
		}
		for _, sub := range subs {
			switch sub.Status {
			case models.SubmissionStatusPaid:
				c.TotalPaid = c.TotalPaid.Add(sub.BountyAmount)
				c.ValidBugs++
				if sub.Severity == models.SeverityHigh {
					c.HighBugs++
				}
			case models.SubmissionStatusJudging, models.SubmissionStatusPaying:
				c.OpenBugs++
			}
		}
		campaigns = append(campaigns, c)
	}
	writeJSON(w, http.StatusOK, campaigns)
}

// --- Treasury ---

func (s *Server) treasury(w http.ResponseWriter, r *http.Request) {
	if s.rail == nil {
		writeError(w, http.StatusServiceUnavailable, "payment rail not configured")
		return
	}

	address, err := s.rail.Address(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch treasury address")
		return
	}
	balances, err := s.rail.Balance(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": address,
		"eth":     balances.ETH,
		"usdc":    balances.USDC,
	})
}
