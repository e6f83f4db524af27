package commands

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

const defaultConfigTemplate = `project: %s
mode: attended

repo:
  owner: ""
  name: ""
  mainline: main

session:
  max_issues: 5
  max_hours: 8
  stale_threshold: 10

gates:
  skip_credential_check: false
  sensitive_paths: []
  protected_scripts: []

agent:
  command: claude
  timeout_minutes: 30
`

const defaultQueueTemplate = `issues: []
# - id: ISSUE-1
#   title: Short summary
#   body: |
#     Longer description.
#   branch: mergeflow/issue-1
`

// Init scaffolds the .mergeflow/ directory in the current project. It is
// idempotent: existing files are left untouched.
func Init(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	dir := filepath.Join(cwd, ".mergeflow")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	project := filepath.Base(cwd)
	files := map[string]string{
		filepath.Join(dir, "mergeflow.yaml"): fmt.Sprintf(defaultConfigTemplate, project),
		filepath.Join(dir, "queue.yaml"):     defaultQueueTemplate,
	}
	for path, content := range files {
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("exists   %s\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Printf("created  %s\n", path)
	}

	fmt.Println("\nEdit .mergeflow/mergeflow.yaml (repo.owner, repo.name), then add issues to .mergeflow/queue.yaml and run 'mergeflow run'.")
	return nil
}
