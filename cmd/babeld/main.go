package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/babeld-go/babeld/internal/babel/daemon"
	"github.com/babeld-go/babeld/internal/config"
	"github.com/babeld-go/babeld/internal/logging"
	"github.com/babeld-go/babeld/internal/version"
	"github.com/babeld-go/babeld/internal/xcmd"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "babeld",
	Short: "babeld-go: a Babel distance-vector routing daemon",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the babeld daemon",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(configPath)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the babeld version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (required by run/show)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newShowCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	app, err := daemon.NewApp(log, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return app.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	if err := wg.Wait(); err != nil {
		var interrupted xcmd.Interrupted
		if errors.As(err, &interrupted) {
			return nil
		}
		return err
	}
	return nil
}
