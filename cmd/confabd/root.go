package main

import (
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "confabd",
	Short: "Multi-agent chat daemon",
	Long: "confabd hosts AI agents that stream replies into chats, sequence " +
		"multi-agent conversations, consolidate transcripts into long-term " +
		"memory and start conversations of their own.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "confab.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd, initCmd, versionCmd)
}
