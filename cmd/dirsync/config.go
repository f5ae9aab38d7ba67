package main

import (
	"os"
	"strings"

	"github.com/openmined/dirsync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var home, _ = os.UserHomeDir()

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

// viper key -> persistent flag
var flagKeys = map[string]string{
	"dir":         "dir",
	"object_path": "object",
	"server_url":  "server",
	"backend":     "backend",
	"state_db":    "state-db",
	"archive":     "archive",
}

func bindFlags(cmd *cobra.Command) {
	for key, flag := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			viper.BindPFlag(key, f)
		}
	}
}

// configFromViper builds the config from every source viper knows about.
// The result is not validated.
func configFromViper() *config.Config {
	return &config.Config{
		TrackedDir:       viper.GetString("dir"),
		ObjectPath:       viper.GetString("object_path"),
		Password:         viper.GetString("password"),
		AccessToken:      viper.GetString("access_token"),
		AuthScheme:       viper.GetString("auth_scheme"),
		ServerURL:        viper.GetString("server_url"),
		UploadEndpoint:   viper.GetString("upload_endpoint"),
		DownloadEndpoint: viper.GetString("download_endpoint"),
		Backend:          viper.GetString("backend"),
		S3: config.S3Config{
			Bucket:    viper.GetString("s3.bucket"),
			Region:    viper.GetString("s3.region"),
			Endpoint:  viper.GetString("s3.endpoint"),
			AccessKey: viper.GetString("s3.access_key"),
			SecretKey: viper.GetString("s3.secret_key"),
			Prefix:    viper.GetString("s3.prefix"),
		},
		StateDBPath: viper.GetString("state_db"),
		ArchivePath: viper.GetString("archive"),
		KeepArchive: viper.GetBool("keep_archive"),
		Exclude:     viper.GetStringSlice("exclude"),
		LogFile:     viper.GetString("log_file"),
	}
}

// loadRunConfig returns a validated config, asking for the password on a
// terminal when none is configured.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := configFromViper()
	if cfg.Password == "" && interactive() {
		password, err := promptPassword(cfg.TrackedDir)
		if err != nil {
			return nil, err
		}
		cfg.Password = password
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true
	return cfg, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromViper()
			if err := cfg.Validate(); err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			if used := viper.ConfigFileUsed(); used != "" {
				cmd.Println(gray.Render("# " + used))
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}

func init() {
	rootCmd.AddCommand(newConfigCmd())
}
