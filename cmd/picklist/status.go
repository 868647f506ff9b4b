package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <cache-key>",
	Short: "Report progress of a running or completed generation",
	Long: "Reports progress of a generation started in this process. The " +
		"result cache is not shared between invocations, so a run from an " +
		"earlier command is not visible here.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildService()
		if err != nil {
			return err
		}
		return printResponse(svc.GetBatchStatus(args[0]))
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache [cache-key...]",
	Short: "Clear cached rankings, all of them or by key",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildService()
		if err != nil {
			return err
		}
		fmt.Printf("cleared %d entries\n", svc.ClearCache(args...))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCacheCmd)
}
