package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initForce bool

// starterConfig is written by `confabd init`. ${VAR} references are expanded
// from the environment at load time.
const starterConfig = `# confab configuration. ${VAR} references expand from the environment.

providers:
  anthropic:
    api_key: ${ANTHROPIC_API_KEY}
  openrouter:
    api_key: ${OPENROUTER_API_KEY}

store:
  # SQLite database path. Leave empty for a volatile in-memory store.
  path: confab.db

queue:
  workers: 4
  buffer: 1024

turn:
  content_flush_ms: 200
  reasoning_flush_ms: 100
  history_limit: 50
  max_tool_rounds: 10

memory:
  idle_hours: 6
  chunk_tokens: 100000
  journal_window_days: 7
  core_token_budget: 10000
  refine_interval_days: 14
  operation_cap: 25

initiative:
  activity_window_days: 7
  default_cap: 3
  hour_start: 8
  hour_end: 22
  timezone: Local
  jitter_minutes: 15

schedule:
  consolidate_every_min: 30
  reflect_every_min: 360
  refine_every_min: 720
  initiate_every_min: 60

metrics:
  enabled: false
  addr: :9187

logging:
  level: info
  format: json
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
		}
		if err := os.WriteFile(cfgPath, []byte(starterConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfgPath)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}
