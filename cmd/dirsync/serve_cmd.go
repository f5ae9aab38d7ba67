package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/openmined/dirsync/internal/config"
	"github.com/openmined/dirsync/internal/devserver"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(newServeCmd())
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local storage server speaking the upload/download protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			root, _ := cmd.Flags().GetString("root")
			publicURL, _ := cmd.Flags().GetString("public-url")
			rateLimit, _ := cmd.Flags().GetString("rate-limit")
			if err := devserver.ValidateRateLimit(rateLimit); err != nil {
				return fmt.Errorf("rate limit %q: %w", rateLimit, err)
			}

			token := viper.GetString("access_token")
			if token == "" {
				return errors.New("an access token is required (DIRSYNC_ACCESS_TOKEN)")
			}

			root, err := utils.ResolvePath(root)
			if err != nil {
				return err
			}
			if err := utils.EnsureDir(root); err != nil {
				return fmt.Errorf("storage root: %w", err)
			}
			cmd.SilenceUsage = true

			// hrefs outlive a restart only with a fixed secret
			var signingKey []byte
			if secret := viper.GetString("href_secret"); secret != "" {
				signingKey = []byte(secret)
			}

			srv := devserver.New(devserver.Config{
				Addr:       addr,
				Token:      token,
				PublicURL:  publicURL,
				RateLimit:  rateLimit,
				SigningKey: signingKey,
			}, afero.NewBasePathFs(afero.NewOsFs(), root))

			slog.Info("serving", "addr", addr, "root", root, "token", utils.MaskSecret(token))
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().String("addr", devserver.DefaultAddr, "listen address")
	cmd.Flags().String("root", filepath.Join(config.DefaultConfigDir, "remote"), "directory objects are stored in")
	cmd.Flags().String("public-url", "", "base url used in issued hrefs (default: request host)")
	cmd.Flags().String("rate-limit", devserver.DefaultRateLimit, "per-ip limit on authorization requests, empty to disable")
	return cmd
}
