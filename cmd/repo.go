package cmd

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scarablabs/scarab/internal/models"
	"github.com/scarablabs/scarab/internal/output"
)

var (
	repoCategory    string
	repoDescription string
)

var repoWalletPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage registered bounty repositories",
	Long:  "Register, list, and remove repositories accepting bug reports under bounty.",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <github-url> <owner-wallet>",
	Short: "Register a repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoAddRun(args[0], args[1])
	},
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoListRun()
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:     "remove <id-or-url>",
	Aliases: []string{"rm"},
	Short:   "Remove a registered repository and its submissions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoRemoveRun(args[0])
	},
}

var repoImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Register repositories from a YAML seed file",
	Long: `Register repositories in bulk from a YAML file:

  repos:
    - repo_url: https://github.com/acme/widgets
      owner_wallet: "0x..."
      category: defi
      description: Widget marketplace contracts

Already-registered URLs are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoImportRun(args[0])
	},
}

func init() {
	repoAddCmd.Flags().StringVar(&repoCategory, "category", "", "Repository category (e.g. defi, infra)")
	repoAddCmd.Flags().StringVar(&repoDescription, "description", "", "Short program description")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoRemoveCmd)
	repoCmd.AddCommand(repoImportCmd)
	rootCmd.AddCommand(repoCmd)
}

func validateRepo(repoURL, wallet string) error {
	if !strings.HasPrefix(repoURL, "https://github.com/") {
		return fmt.Errorf("invalid GitHub URL: %s", repoURL)
	}
	if !repoWalletPattern.MatchString(wallet) {
		return fmt.Errorf("invalid wallet address: %s", wallet)
	}
	return nil
}

func repoAddRun(repoURL, wallet string) error {
	if err := validateRepo(repoURL, wallet); err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would register %s (owner %s)", repoURL, wallet)
		return nil
	}

	repo := &models.Repo{
		RepoURL:     strings.TrimSuffix(repoURL, "/"),
		OwnerWallet: wallet,
		Category:    repoCategory,
		Description: repoDescription,
	}
	if err := s.CreateRepo(context.Background(), repo); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("repo already registered: %s", repoURL)
		}
		return err
	}

	ui.Success("Registered %s (%s)", output.Cyan(repo.RepoURL), repo.ID)
	return nil
}

func repoListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	repos, err := s.ListRepos(context.Background())
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		ui.Info("No repositories registered. Use 'scarab repo add' to register one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Repo", "Owner Wallet", "Category"})
	for _, r := range repos {
		table.Append([]string{
			r.ID,
			strings.TrimPrefix(r.RepoURL, "https://github.com/"),
			r.OwnerWallet,
			r.Category,
		})
	}
	table.Render()
	return nil
}

// resolveRepo finds a repo by id or by URL.
func resolveRepo(ctx context.Context, arg string) (*models.Repo, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(arg, "https://github.com/") {
		return s.GetRepoByURL(ctx, strings.TrimSuffix(arg, "/"))
	}
	return s.GetRepo(ctx, arg)
}

func repoRemoveRun(arg string) error {
	ctx := context.Background()
	repo, err := resolveRepo(ctx, arg)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove %s and its submissions", repo.RepoURL)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.DeleteRepo(ctx, repo.ID); err != nil {
		return err
	}
	ui.Success("Removed %s", repo.RepoURL)
	return nil
}

// repoSeed is one entry of the YAML import file.
type repoSeed struct {
	RepoURL     string `yaml:"repo_url"`
	OwnerWallet string `yaml:"owner_wallet"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

type repoSeedFile struct {
	Repos []repoSeed `yaml:"repos"`
}

func repoImportRun(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seeds repoSeedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	if len(seeds.Repos) == 0 {
		return fmt.Errorf("no repos found in %s", path)
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	ctx := context.Background()
	added, skipped := 0, 0
	for _, seed := range seeds.Repos {
		if err := validateRepo(seed.RepoURL, seed.OwnerWallet); err != nil {
			ui.Warning("Skipping %s: %v", seed.RepoURL, err)
			skipped++
			continue
		}

		if dryRun {
			ui.DryRunMsg("Would register %s", seed.RepoURL)
			continue
		}

		repo := &models.Repo{
			RepoURL:     strings.TrimSuffix(seed.RepoURL, "/"),
			OwnerWallet: seed.OwnerWallet,
			Category:    seed.Category,
			Description: seed.Description,
		}
		if err := s.CreateRepo(ctx, repo); err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				ui.VerboseLog("Already registered: %s", seed.RepoURL)
				skipped++
				continue
			}
			return err
		}
		added++
	}

	ui.Success("Imported %d repos (%d skipped)", added, skipped)
	return nil
}
