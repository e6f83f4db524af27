package commands

import (
	"flag"
	"fmt"
)

// Validate checks the project configuration and reports problems.
func Validate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := AddProjectConfigFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := ResolveConfig(*configPath)
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}

	issues := cfg.Validate()
	if len(issues) == 0 {
		fmt.Println("configuration is valid")
		return nil
	}
	for _, issue := range issues {
		fmt.Println(issue)
	}
	return fmt.Errorf("%d configuration issue(s) found", len(issues))
}
