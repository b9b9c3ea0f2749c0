package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/spf13/cobra"
)

var version = "1.0.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "billingctl",
		Short: "Operations CLI for the billing engine",
		Long: `billingctl runs the jobs the API normally runs in the background, one pass at a time.

Database commands read DB_USER, DB_PASSWORD, DB_HOST, DB_PORT and DB_NAME.
Notification commands read PUBSUB_PROJECT_ID and NOTIFICATION_TOPIC.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newRecurringTickCmd(),
		newOutboxDrainCmd(),
		newNotificationsCmd(),
		newTokenCmd(),
		newSpaydCmd(),
	)
	return root
}

// connectDatabase is the prerun for every command that needs MySQL.
func connectDatabase(cmd *cobra.Command, args []string) error {
	if config.GetDB() != nil {
		return nil
	}
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		return errors.New("database not initialized; set DB_* env vars")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
