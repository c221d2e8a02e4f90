package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/airlift/buildforge/internal/observability"
	"github.com/airlift/buildforge/pkg/jobstore"
	"github.com/airlift/buildforge/pkg/provider/github"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks against the configured environment",
	Long: `Run diagnostic checks: configuration, job store access, artifact
storage and provider credentials. Exits non-zero when a check fails.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger("info")
	defer func() { _ = log.Sync() }()

	ok := true
	check := func(name string, err error) {
		if err != nil {
			log.Error(fmt.Sprintf("%-24s FAIL", name), zap.Error(err))
			ok = false
			return
		}
		log.Info(fmt.Sprintf("%-24s ok", name))
	}

	cfg, err := loadConfig()
	check("configuration", err)
	if err != nil {
		return fmt.Errorf("diagnostics failed")
	}

	check("data directory", os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755))

	store, err := jobstore.Open(cmd.Context(), jobstore.Config{Path: cfg.Store.Path})
	check("job store", err)
	if err == nil {
		_, listErr := store.ListNonterminal(cmd.Context())
		check("job store query", listErr)
		_ = store.Close()
	}

	if cfg.Artifacts.Backend == "file" {
		check("artifact directory", os.MkdirAll(cfg.Artifacts.Dir, 0o755))
	}

	ci, err := github.New(github.Config{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.APIBaseURL,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
	})
	check("provider client", err)
	if err == nil {
		identity, authErr := ci.AuthenticatedUser(cmd.Context())
		check("provider credentials", authErr)
		if authErr == nil {
			log.Info("authenticated as " + identity.Login)
			if !identity.HasScope("repo") {
				check("token repo scope", fmt.Errorf("token lacks the repo scope"))
			} else {
				check("token repo scope", nil)
			}
			if !identity.HasScope("delete_repo") {
				log.Warn("token lacks delete_repo scope; fork cleanup may fail")
			}
		}
	}

	if cfg.Build.CallbackURL == "" {
		log.Warn("build.callback_url is not set; workers cannot report completion")
	}

	if !ok {
		return fmt.Errorf("diagnostics failed")
	}
	log.Info("all checks passed")
	return nil
}
