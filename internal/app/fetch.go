package app

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Martian-dev/gmail-mirror/internal/sync"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Sync a mailbox once",
	Long: "Runs a full backfill by default, an incremental update with --update " +
		"or registers a push watch with --watch",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()

		email, _ := flags.GetString("email")
		userID, _ := flags.GetString("user-id")
		force, _ := flags.GetBool("force")
		only, _ := flags.GetString("only")
		update, _ := flags.GetBool("update")
		historyID, _ := flags.GetUint64("history-id")
		watch, _ := flags.GetBool("watch")
		topic, _ := flags.GetString("topic")

		if userID == "" {
			return fmt.Errorf("--user-id is required")
		}

		opts, err := fetchOptions(update, watch)
		if err != nil {
			return err
		}
		opts.Force = force
		opts.Only = only
		opts.HistoryID = historyID
		opts.Topic = topic

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if opts.Topic == "" {
			opts.Topic = cfg.Google.Topic
		}

		comps, err := openComponents(cfg, log)
		if err != nil {
			return err
		}
		defer comps.Close()

		newClient, err := clientFactory(cfg)
		if err != nil {
			return err
		}
		client, err := newClient(ctx, userID)
		if err != nil {
			return err
		}

		if email == "" {
			addr, _, err := client.Profile(ctx)
			if err != nil {
				return err
			}
			email = addr
			log.WithField("email", email).Info("resolved mailbox address from profile")
		}

		stores := comps.stores()
		o := &sync.Orchestrator{
			Client:   client,
			Messages: stores.Messages,
			Content:  stores.Content,
			Watches:  stores.Watches,
			Blobs:    stores.Blobs,
			Log:      log,
		}
		res, err := o.Sync(ctx, userID, email, opts)
		if err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"run_id":     res.RunID,
			"mode":       res.Mode,
			"listed":     res.Listed,
			"stored":     res.Stored,
			"downloaded": res.Downloaded,
			"reused":     res.Reused,
		}).Info("fetch complete")
		if res.Watch != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "watch registered for %s, expires %s\n",
				res.Watch.Email, time.UnixMilli(res.Watch.Expiration).Format(time.RFC3339))
		}
		return nil
	},
}

// fetchOptions maps the mode flags to a sync mode
func fetchOptions(update, watch bool) (sync.Options, error) {
	switch {
	case update && watch:
		return sync.Options{}, fmt.Errorf("--update and --watch are mutually exclusive")
	case watch:
		return sync.Options{Mode: sync.ModeWatch}, nil
	case update:
		return sync.Options{Mode: sync.ModeIncremental}, nil
	default:
		return sync.Options{Mode: sync.ModeFull}, nil
	}
}

func init() {
	f := fetchCmd.Flags()
	f.String("email", "", "mailbox address (read from the Gmail profile when empty)")
	f.String("user-id", "", "owner id stamped on every stored record")
	f.Bool("force", false, "purge the owner's messages and attachment entries first")
	f.String("only", "", "restrict a full sync to one correspondent")
	f.Bool("update", false, "incremental sync from the latest stored history id")
	f.Uint64("history-id", 0, "override the incremental starting history id")
	f.Bool("watch", false, "register a Pub/Sub push watch")
	f.String("topic", "", "Pub/Sub topic for --watch (default google.topic)")
}
