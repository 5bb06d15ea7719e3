package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Martian-dev/gmail-mirror/internal/auth"
	"github.com/Martian-dev/gmail-mirror/internal/config"
	natsjs "github.com/Martian-dev/gmail-mirror/internal/nats"
	"github.com/Martian-dev/gmail-mirror/internal/notify"
	"github.com/Martian-dev/gmail-mirror/internal/server"
	"github.com/Martian-dev/gmail-mirror/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive Gmail push notifications",
	Long: "Runs the webhook server. Each accepted notification triggers the " +
		"update action chosen with --on-update.",
	RunE: func(cmd *cobra.Command, args []string) error {
		onUpdateName, _ := cmd.Flags().GetString("on-update")

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		comps, err := openComponents(cfg, log)
		if err != nil {
			return err
		}
		defer comps.Close()

		var manager *sync.Manager
		var onUpdate notify.UpdateFunc
		switch onUpdateName {
		case "sync":
			newClient, err := clientFactory(cfg)
			if err != nil {
				return err
			}
			manager = sync.NewManager(comps.stores(), func(ctx context.Context, userID string) (sync.MailboxClient, error) {
				client, err := newClient(ctx, userID)
				if err != nil {
					return nil, err
				}
				return client, nil
			}, log)
			onUpdate = manager.OnUpdate
		case "log":
			onUpdate = logUpdate(log)
		case "none":
		default:
			return fmt.Errorf("unknown --on-update %q: want sync, log or none", onUpdateName)
		}

		handler := notify.NewHandler(comps.db, comps.db, onUpdate, log)

		if cfg.NATS.URL != "" {
			pub, err := startDispatcher(ctx, cfg, comps, log)
			if err != nil {
				return err
			}
			defer pub.Close()
		}

		opts := server.Options{
			Addr:     cfg.Server.Addr,
			CertFile: cfg.Server.CertFile,
			KeyFile:  cfg.Server.KeyFile,
		}
		if cfg.Webhook.Audience != "" {
			verifier, err := auth.NewPushVerifier(ctx, cfg.Webhook.JWKSURL, cfg.Webhook.Audience, cfg.Webhook.Email)
			if err != nil {
				return err
			}
			opts.Verifier = verifier
		}

		srvErr := server.New(opts, handler, log).Run(ctx)

		log.Info("shutting down")
		handler.Wait()
		if manager != nil {
			manager.StopAll()
			done := make(chan struct{})
			go func() {
				manager.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(10 * time.Second):
				log.Warn("syncs did not stop within timeout")
			}
		}
		return srvErr
	},
}

func logUpdate(log logrus.FieldLogger) notify.UpdateFunc {
	return func(_ context.Context, ev notify.Event) error {
		log.WithFields(logrus.Fields{
			"user_id":    ev.UserID,
			"email":      ev.Email,
			"history_id": ev.HistoryID,
		}).Info("mailbox changed")
		return nil
	}
}

func startDispatcher(ctx context.Context, cfg *config.Config, comps *components, log logrus.FieldLogger) (*natsjs.Publisher, error) {
	pub, err := natsjs.NewPublisher(cfg.NATS.URL)
	if err != nil {
		return nil, err
	}
	if err := pub.EnsureStream(ctx); err != nil {
		pub.Close()
		return nil, err
	}

	d := &sync.Dispatcher{
		Outbox:    comps.db,
		Publisher: pub,
		Log:       log.WithField("component", "dispatcher"),
	}
	go d.Run(ctx)
	log.WithField("stream", natsjs.StreamName).Info("outbox dispatcher started")
	return pub, nil
}

func init() {
	serveCmd.Flags().String("on-update", "sync", "action on notification: sync, log or none")
}
