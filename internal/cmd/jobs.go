package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/airlift/buildforge/pkg/jobstore"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and administer build jobs in the local store",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List build jobs, newest first",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its full log",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Mark a non-terminal job cancelled",
	Long: `Mark a non-terminal job cancelled directly in the store. Intended for
administration while the server is offline; a running server's monitor
for this job keeps polling until its next tick observes the change.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsCancel,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsCancelCmd)
}

func openStore(cmd *cobra.Command) (*jobstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := jobstore.Open(cmd.Context(), jobstore.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return store, nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	jobs, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tAPP\tREPO\tSTARTED\tFORK CLEANED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n",
			j.ID, j.Status, j.Source.AppName, j.Source.RepoURL,
			j.StartTime.UTC().Format(time.RFC3339), j.ForkCleaned)
	}
	return w.Flush()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	job, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	applied, err := store.SetStatus(cmd.Context(), args[0],
		jobstore.StatusCancelled, "Build cancelled by operator", nil)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("job %s is already in a terminal state", args[0])
	}
	fmt.Printf("job %s cancelled\n", args[0])
	return nil
}
