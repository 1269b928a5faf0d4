package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tokenx-labs/fdc-validator/log"
	"github.com/tokenx-labs/fdc-validator/validator-app/config"
)

const (
	defaultConfigFile = "validator-app/configs/config.yaml"
	defaultEnvFile    = ".env"
)

var (
	cfgFile string
	envFile string
	rootCmd = &cobra.Command{
		Use:   "fdc-validator",
		Short: "FDC validator",
		Long:  banner + "\n\nProves pending TokenX validation requests through the Flare Data Connector.",
		RunE:  runApp,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}

	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate a validator signing key",
		RunE:  runKeygen,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE:  runConfig,
	}

	tickCmd = &cobra.Command{
		Use:   "tick",
		Short: "Run a single processing pass and print its report",
		RunE:  runTick,
	}
)

const banner = `
███████╗██████╗  ██████╗
██╔════╝██╔══██╗██╔════╝
█████╗  ██║  ██║██║
██╔══╝  ██║  ██║██║
██║     ██████╔╝╚██████╗
╚═╝     ╚═════╝  ╚═════╝  validator`

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	cobra.OnInitialize(initConfig)

	// Add subcommands
	rootCmd.AddCommand(versionCmd, keygenCmd, configCmd, tickCmd)

	addGlobalFlags(rootCmd)
}

func addGlobalFlags(cmd *cobra.Command) {
	// Global flags
	cmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigFile, "config file path")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file loaded before the config")
	cmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// API flags
	cmd.PersistentFlags().String("listen-addr", "", "HTTP API listen address")
	cmd.PersistentFlags().Bool("api", true, "enable the HTTP API")
	cmd.PersistentFlags().Bool("metrics", false, "enable metrics")

	// Pipeline flags
	cmd.PersistentFlags().String("validator", "", "validator address whose requests are processed")
	cmd.PersistentFlags().Int("concurrency", 0, "requests processed at once")
	cmd.PersistentFlags().Duration("interval", 0, "time between scheduled ticks")
	cmd.PersistentFlags().String("ledger.driver", "", "ledger backend (memory, sqlite, postgres)")
	cmd.PersistentFlags().String("ledger.dsn", "", "ledger data source name")
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = defaultConfigFile
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func runApp(cmd *cobra.Command, _ []string) error {
	fmt.Println(banner)
	fmt.Println()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := log.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	log.Info().
		Str("config_file", cfgFile).
		Str("rpc_endpoint", cfg.Chain.RPCEndpoint).
		Str("listen_addr", cfg.API.ListenAddr).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Dur("interval", cfg.Scheduler.Interval).
		Int("concurrency", cfg.Pipeline.Concurrency).
		Str("ledger_driver", cfg.Ledger.Driver).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runTick(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Scheduler.Enabled = false
	cfg.API.Enabled = false

	log := log.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	application, err := NewApp(ctx, cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer func() {
		if cerr := application.shutdown(); cerr != nil {
			log.Error().Err(cerr).Msg("Shutdown error")
		}
	}()

	report, err := application.orchestrator.Tick(ctx)
	if report != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return fmt.Errorf("tick failed: %w", err)
	}
	if report.Aborted {
		return fmt.Errorf("tick aborted: %s", report.AbortReason)
	}
	return nil
}

func runVersion(*cobra.Command, []string) {
	fmt.Println(banner)
	fmt.Println()
	fmt.Printf("FDC Validator\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// runKeygen prints a fresh secp256k1 key in the dotenv format read by Load.
func runKeygen(cmd *cobra.Command, _ []string) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "PRIVATE_KEY=0x%x\n", crypto.FromECDSA(key))
	fmt.Fprintf(out, "VALIDATOR_ADDRESS=%s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
	return nil
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flag("log-level").Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("listen-addr").Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}
	if cmd.Flag("api").Changed {
		cfg.API.Enabled, _ = cmd.Flags().GetBool("api")
	}
	if cmd.Flag("metrics").Changed {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}

	if cmd.Flag("validator").Changed {
		cfg.Validator.Address, _ = cmd.Flags().GetString("validator")
	}
	if cmd.Flag("concurrency").Changed {
		cfg.Pipeline.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flag("interval").Changed {
		cfg.Scheduler.Interval, _ = cmd.Flags().GetDuration("interval")
	}
	if cmd.Flag("ledger.driver").Changed {
		cfg.Ledger.Driver, _ = cmd.Flags().GetString("ledger.driver")
	}
	if cmd.Flag("ledger.dsn").Changed {
		cfg.Ledger.DSN, _ = cmd.Flags().GetString("ledger.dsn")
	}
}
