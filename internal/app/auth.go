package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Martian-dev/gmail-mirror/internal/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Print the Google consent URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		oauthCfg, err := auth.LoadOAuthConfig(cfg.Google.CredentialsFile)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Authorize this app by visiting this url:")
		fmt.Fprintln(cmd.OutOrStdout(), auth.AuthURL(oauthCfg, "state-token"))
		fmt.Fprintln(cmd.OutOrStdout(), "Then run: gmail-mirror exchange --code <code>")
		return nil
	},
}

var exchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Exchange an authorization code and cache the token",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _ := cmd.Flags().GetString("code")
		if code == "" {
			return fmt.Errorf("--code is required")
		}

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		oauthCfg, err := auth.LoadOAuthConfig(cfg.Google.CredentialsFile)
		if err != nil {
			return err
		}

		if _, err := auth.Exchange(cmd.Context(), oauthCfg, code, cfg.Google.TokenFile); err != nil {
			return err
		}
		log.WithField("file", cfg.Google.TokenFile).Info("token stored")
		return nil
	},
}

func init() {
	exchangeCmd.Flags().String("code", "", "authorization code from the consent page")
}
