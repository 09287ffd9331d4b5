package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/babeld-go/babeld/internal/config"
)

// newShowCmd builds the "show" command tree, which queries a running
// daemon's admin HTTP endpoint rather than touching any state directly
// (mirroring RouteService.ShowRoutes's role as a read-only operator view).
func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Inspect a running babeld daemon",
	}
	showCmd.AddCommand(&cobra.Command{
		Use:   "routes",
		Short: "Dump the live route table",
		RunE: func(_ *cobra.Command, _ []string) error {
			return fetchAndPrint(configPath, "/routes")
		},
	})
	showCmd.AddCommand(&cobra.Command{
		Use:   "sources",
		Short: "Dump the live source table",
		RunE: func(_ *cobra.Command, _ []string) error {
			return fetchAndPrint(configPath, "/sources")
		},
	})
	return showCmd
}

func fetchAndPrint(configPath, path string) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Admin.HTTPEndpoint == "" {
		return fmt.Errorf("admin http endpoint is disabled in config")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + cfg.Admin.HTTPEndpoint + path)
	if err != nil {
		return fmt.Errorf("failed to query daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
