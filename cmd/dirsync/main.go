package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/dirsync/internal/config"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/openmined/dirsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	envPrefix      = "DIRSYNC"
	configFileName = "config"
)

var (
	logLevel = new(slog.LevelVar)
	logSink  *lumberjack.Logger
)

var rootCmd = &cobra.Command{
	Use:     "dirsync",
	Short:   "Sync a directory to remote storage as an encrypted archive",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logLevel.Set(slog.LevelDebug)
		}
		if err := loadConfig(cmd); err != nil {
			return err
		}
		return setupLogging(viper.GetString("log_file"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !interactive() {
			return cmd.Help()
		}
		return runInteractive(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", "", "config file (default ~/.dirsync/config.{yaml,json,toml})")
	flags.StringP("dir", "d", "", "directory to sync")
	flags.StringP("object", "o", "", "remote object path (default <dir name>.zip)")
	flags.StringP("server", "s", "", "storage api base url")
	flags.String("backend", config.BackendAPI, "storage backend: api or s3")
	flags.String("state-db", config.DefaultStateDBPath, "sync state database")
	flags.String("archive", "", "local path of the transient archive")
	flags.BoolP("verbose", "v", false, "debug logging")
}

func main() {
	logLevel.Set(slog.LevelInfo)
	defer closeLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging sends logs to stderr and to a rotating file. An empty path
// uses the default log file.
func setupLogging(logFile string) error {
	if logFile == "" {
		logFile = config.DefaultLogFilePath
	}
	logFile, err := utils.ResolvePath(logFile)
	if err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	if err := utils.EnsureParent(logFile); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	closeLogging()
	logSink = &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	stderrHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	fileHandler := slog.NewTextHandler(logSink, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stderrHandler, fileHandler)))
	return nil
}

func closeLogging() {
	if logSink != nil {
		logSink.Close()
	}
}

// loadConfig layers flags over env over config file over .env
func loadConfig(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv load", "error", err)
	}

	if f := cmd.Flag("config"); f != nil && f.Changed {
		viper.SetConfigFile(f.Value.String())
	} else {
		viper.AddConfigPath(config.DefaultConfigDir)
		viper.AddConfigPath(filepath.Join(home, ".config", "dirsync"))
		viper.SetConfigName(configFileName)
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	bindFlags(cmd)

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	return nil
}

func interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}
