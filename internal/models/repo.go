package models

import "time"

// Repo represents a registered repository accepting bug reports under bounty.
type Repo struct {
	ID          string
	RepoURL     string // canonical GitHub URL, unique
	OwnerWallet string // payout address of the registering owner
	Category    string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
