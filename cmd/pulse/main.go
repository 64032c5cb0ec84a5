package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"liuproxy_pulse/internal/app"
	"liuproxy_pulse/internal/shared/config"
	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/internal/shared/types"
)

var (
	configDir string
	logLevel  string
	webPort   int
	runMode   string

	cfg *types.Config
)

var rootCmd = &cobra.Command{
	Use:           "pulse",
	Short:         "Keeps dashboard account tokens alive through a validated proxy pool",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		iniPath := filepath.Join(configDir, "pulse.ini")

		// 1. 加载 .ini 行为配置
		loaded, err := config.Load(iniPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogConf.Level = logLevel
		}
		if cmd.Flags().Changed("web-port") {
			loaded.WebConf.Port = webPort
		}

		// 1.1 初始化日志系统
		if err := logger.Init(loaded.LogConf); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Select a proxy pool and start one worker per token",
	Long: `Select a proxy pool and start one worker per token.
--mode picks the pool non-interactively:
  file    use the local proxy file as-is
  fetch   fetch online sources and validate
  saved   use the last validated list
  direct  no proxies
Without --mode an interactive menu is shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := runMode
		if mode == "" {
			mode = cfg.CommonConf.Mode
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := app.New(cfg).Run(ctx, mode, os.Stdin, os.Stdout)
		if errors.Is(err, app.ErrExit) {
			return nil
		}
		return err
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Fetch proxies from online sources, validate them and save the working list",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		n, err := app.New(cfg).Validate(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int("count", n).Str("path", cfg.ProxyPoolConf.PersistFile).Msg("Working proxies saved.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "configdir", "configs", "Path to config directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().IntVar(&webPort, "web-port", 0, "Status page port, 0 disables it")

	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().StringVar(&runMode, "mode", "", "Proxy pool mode: file, fetch, saved or direct")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if cfg == nil {
			// Use standard fmt before logger is initialized.
			fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
			os.Exit(1)
		}
		if errors.Is(err, config.ErrNoCredentials) {
			logger.Fatal().Err(err).Str("path", cfg.CommonConf.TokenFile).Msg("No tokens to run, add one token per line.")
		}
		logger.Fatal().Err(err).Msg("Exiting.")
	}
}
