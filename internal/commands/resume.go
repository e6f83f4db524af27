package commands

import (
	"flag"
	"fmt"
)

// Resume prints the interrupt snapshot for an issue so an operator (or the
// agent) can pick the work back up.
func Resume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := AddProjectConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("missing required argument: <issue-id>")
	}
	issue := fs.Arg(0)

	cfg, err := ResolveConfig(*configPath)
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}

	store := sessionStore(cfg)
	snap, err := store.ReadSnapshot(issue)
	if err != nil {
		return err
	}
	if snap == nil {
		fmt.Printf("no snapshot for %s; the issue was not interrupted\n", issue)
		return nil
	}

	fmt.Printf("Issue:    %s\n", snap.Issue)
	fmt.Printf("Reason:   %s\n", snap.Reason)
	fmt.Printf("Worktree: %s\n", snap.Worktree)
	fmt.Printf("Taken:    %s\n", snap.TakenAt.Format("2006-01-02 15:04:05 MST"))
	if snap.LastCommit != "" {
		fmt.Printf("Last commit: %s\n", snap.LastCommit)
	}
	if snap.GitStatus != "" {
		fmt.Printf("\nUncommitted changes at interrupt:\n%s\n", snap.GitStatus)
	}
	fmt.Println("\nRe-run 'mergeflow run' to continue; the pipeline re-derives the phase from current state.")
	return nil
}
