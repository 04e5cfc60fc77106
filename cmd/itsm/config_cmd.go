package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/akshay-eng/ITSM-agent/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage agent configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file to the workspace",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote default config to %s\n", path)
	fmt.Println("Set SNOW_INSTANCE_URL, SNOW_USER, and SNOW_PASS (or edit the file) to enable ticket execution.")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.Path(workspace))
	if err != nil {
		return err
	}

	fmt.Printf("config file:      %s\n", config.Path(workspace))
	fmt.Printf("server addr:      %s\n", cfg.Server.Addr)
	fmt.Printf("history db:       %s\n", cfg.Retrieval.DatabasePath)
	fmt.Printf("retrieval top-k:  %d\n", cfg.Retrieval.TopK)
	fmt.Printf("embedding:        %s\n", cfg.Embedding.Provider)
	if cfg.Snow.InstanceURL != "" {
		fmt.Printf("servicenow:       %s (user %s)\n", cfg.Snow.InstanceURL, cfg.Snow.Username)
	} else {
		fmt.Println("servicenow:       not configured (draft-only mode)")
	}
	return nil
}
