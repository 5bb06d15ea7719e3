package app

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Martian-dev/gmail-mirror/internal/auth"
	"github.com/Martian-dev/gmail-mirror/internal/blobstore"
	"github.com/Martian-dev/gmail-mirror/internal/config"
	"github.com/Martian-dev/gmail-mirror/internal/logging"
	"github.com/Martian-dev/gmail-mirror/internal/providers/gmail"
	"github.com/Martian-dev/gmail-mirror/internal/store/redisstore"
	"github.com/Martian-dev/gmail-mirror/internal/store/sqlite"
	"github.com/Martian-dev/gmail-mirror/internal/sync"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gmail-mirror",
	Short: "Mirror Gmail mailboxes into a local document store",
	Long: "Backfills, incrementally updates and watches Gmail mailboxes, " +
		"storing every attachment payload once by content identifier",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().String("store.path", "data/mirror.db", "SQLite document store path")
	rootCmd.PersistentFlags().String("log.level", "info", "log level")
	rootCmd.PersistentFlags().String("log.format", "text", "log format: text or json")

	viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("store.path"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log.level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log.format"))

	rootCmd.AddCommand(authCmd, exchangeCmd, fetchCmd, serveCmd, setupCmd)
}

func initConfig() {
	config.Init(viper.GetViper(), cfgFile)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig decodes the global viper instance and builds the logger
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	if used := viper.ConfigFileUsed(); used != "" {
		log.WithField("file", used).Debug("using config file")
	}
	return cfg, log, nil
}

// components are the shared store handles opened once per process
type components struct {
	db      *sqlite.Store
	content sync.ContentStore
	blobs   *blobstore.Store
	closers []func() error
}

func (c *components) stores() sync.Stores {
	return sync.Stores{
		Messages: c.db,
		Content:  c.content,
		Watches:  c.db,
		Blobs:    c.blobs,
	}
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func openComponents(cfg *config.Config, log logrus.FieldLogger) (*components, error) {
	db, err := sqlite.Open(sqlite.Options{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		Prefix: cfg.Store.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	c := &components{db: db, content: db, closers: []func() error{db.Close}}

	if cfg.Redis.URL != "" {
		rs, err := redisstore.New(cfg.Redis.URL, cfg.Store.Prefix)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to open redis content store: %w", err)
		}
		c.content = rs
		c.closers = append(c.closers, rs.Close)
		log.Info("using redis content store")
	}

	blobs, err := blobstore.NewOS(cfg.Store.AttachmentsDir)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open attachments directory: %w", err)
	}
	c.blobs = blobs

	return c, nil
}

// tokenStore picks the token service when configured, the local token
// cache otherwise
func tokenStore(cfg *config.Config) auth.TokenStore {
	if cfg.Tokens.ServiceURL != "" {
		return auth.NewTokenServiceClient(cfg.Tokens.ServiceURL, cfg.Tokens.ServiceKey)
	}
	return auth.FileTokens{Path: cfg.Google.TokenFile}
}

// clientFactory builds authenticated Gmail clients per mailbox owner
func clientFactory(cfg *config.Config) (func(ctx context.Context, userID string) (*gmail.Adapter, error), error) {
	oauthCfg, err := auth.LoadOAuthConfig(cfg.Google.CredentialsFile)
	if err != nil {
		return nil, err
	}
	tokens := tokenStore(cfg)

	return func(ctx context.Context, userID string) (*gmail.Adapter, error) {
		tok, err := tokens.Token(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get token for %s: %w", userID, err)
		}
		return gmail.New(ctx, oauthCfg, tok)
	}, nil
}
