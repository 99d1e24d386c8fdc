package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "reviewlens",
	Short: "Business review scrape-and-analyze service",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
}
