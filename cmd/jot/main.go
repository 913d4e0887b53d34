package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jot-go/internal/app"
	"jot-go/internal/config"
	"jot-go/internal/jot"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a JotApp. The caller must defer app.Close().
func newApp() (*app.JotApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewJotApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "jot",
	Short: "Personal notes synchronization",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Sync Dir:  %s\n", cfg.Targets[0].Path)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("App Type:    %s\n", cfg.AppType)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Sync Target: %s\n", cfg.SyncTarget)
		for _, tc := range cfg.Targets {
			location := tc.Path
			if tc.Type == "s3" {
				location = tc.S3Bucket + "/" + tc.S3Prefix
			}
			fmt.Printf("  %-10s %-12s %s\n", tc.Name, tc.Type, location)
		}
		return nil
	},
}

// target command
var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage the sync target",
}

var targetInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a fresh sync target",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.TargetStatus()
		if err != nil {
			return err
		}
		if status.Version != 0 {
			return fmt.Errorf("sync target is already initialized (version %d)", status.Version)
		}

		if err := a.UpgradeTarget(); err != nil {
			return fmt.Errorf("initializing sync target: %w", err)
		}

		fmt.Printf("Sync target initialized at version %d\n", jot.SyncTargetVersion)
		return nil
	},
}

var targetUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade the sync target layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.UpgradeTarget(); err != nil {
			return fmt.Errorf("upgrading sync target: %w", err)
		}

		fmt.Printf("Sync target is at version %d\n", jot.SyncTargetVersion)
		return nil
	},
}

var targetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "View sync target status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.TargetStatus()
		if err != nil {
			return err
		}

		fmt.Printf("Version:        %d (supported: %d)\n", status.Version, status.SupportedVersion)
		fmt.Printf("Sync lock:      %v\n", status.SyncLocked)
		fmt.Printf("Exclusive lock: %v\n", status.ExclusiveLocked)
		if status.Version == 0 {
			fmt.Println("\nThe target is empty. It will be initialized on the first sync.")
		}
		if status.UpgradeRequired {
			fmt.Println("\nThe target needs an upgrade. Run 'jot target upgrade'.")
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize notes with the configured target",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			fmt.Fprintln(os.Stderr, "Cancelling, waiting for the sync to stop...")
			a.CancelSync()
		}()

		report, err := a.Sync(func(r jot.Report) {
			if r.FetchingTotal > 0 {
				fmt.Printf("Fetching items: %d/%d\n", r.FetchingProcessed, r.FetchingTotal)
			}
		})
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		printReport(report)
		return nil
	},
}

func printReport(r jot.Report) {
	rows := []struct {
		label string
		count int
	}{
		{"Created locally:", r.CreateLocal},
		{"Updated locally:", r.UpdateLocal},
		{"Deleted locally:", r.DeleteLocal},
		{"Created remotely:", r.CreateRemote},
		{"Updated remotely:", r.UpdateRemote},
		{"Deleted remotely:", r.DeleteRemote},
		{"Item conflicts:", r.ItemConflict},
		{"Note conflicts:", r.NoteConflict},
		{"Resource conflicts:", r.ResourceConflict},
	}
	for _, row := range rows {
		if row.count > 0 {
			fmt.Printf("%-20s %d\n", row.label, row.count)
		}
	}
	if !r.Changed() {
		fmt.Println("Already up to date.")
	}
	if !r.CompletedTime.IsZero() {
		fmt.Printf("Completed in %s\n", r.CompletedTime.Sub(r.StartTime).Truncate(time.Millisecond))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(os.Stderr, "error: %v\n", e)
	}
	if len(r.Errors) > 0 {
		fmt.Printf("Completed with %d error(s), the next sync will retry.\n", len(r.Errors))
	}
}

// e2ee command
var e2eeCmd = &cobra.Command{
	Use:   "e2ee",
	Short: "Manage end-to-end encryption",
}

var e2eeEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable end-to-end encryption",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase()
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		keyID, err := a.EnableE2EE(passphrase)
		if err != nil {
			return fmt.Errorf("enabling encryption: %w", err)
		}

		fmt.Printf("End-to-end encryption enabled with master key %s\n", keyID)
		fmt.Println("Run 'jot sync' to publish the key to the sync target.")
		return nil
	},
}

var e2eeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "View end-to-end encryption status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.E2EEStatus()
		if err != nil {
			return err
		}

		fmt.Printf("Enabled:     %v\n", status.Enabled)
		fmt.Printf("Active key:  %s\n", status.ActiveKeyID)
		fmt.Printf("Master keys: %d\n", status.MasterKeys)
		return nil
	},
}

func readPassphrase() (string, error) {
	fmt.Print("Passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	fmt.Print("Repeat passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// target subcommands
	targetCmd.AddCommand(targetInitCmd)
	targetCmd.AddCommand(targetUpgradeCmd)
	targetCmd.AddCommand(targetStatusCmd)

	// e2ee subcommands
	e2eeCmd.AddCommand(e2eeEnableCmd)
	e2eeCmd.AddCommand(e2eeStatusCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(targetCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(e2eeCmd)
}
