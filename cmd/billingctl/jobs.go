package main

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		Short:   "Create or update the billing tables",
		PreRunE: connectDatabase,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := models.AutoMigrate(config.GetDB()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			config.LogInfo(config.GetLogger(), "billingctl", "migrate", "schema up to date", nil)
			return nil
		},
	}
}

func newRecurringTickCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recurring-tick",
		Short: "Materialize every recurring template that is due",
		Long: `Runs one scheduler pass. Templates several periods behind catch up in the same run.
Safe to run alongside the API: a period already materialized is skipped.`,
		Example: `  # Run as of now
  billingctl recurring-tick

  # Run as of a past date (e.g. to replay a missed night)
  billingctl recurring-tick --as-of 2026-03-01`,
		PreRunE: connectDatabase,
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, _ := cmd.Flags().GetString("as-of")
			w := workflow.NewRecurringInvoiceWorkflow(config.GetLogger(), nil)
			if asOf != "" {
				t, err := time.Parse("2006-01-02", asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of, use YYYY-MM-DD: %w", err)
				}
				w.Now = func() time.Time { return t }
			}
			results, err := w.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().String("as-of", "", "Scheduler date (format: YYYY-MM-DD, default: today)")
	return cmd
}

func newOutboxDrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "outbox-drain",
		Short:   "Publish every pending notification and exit",
		PreRunE: connectDatabase,
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, _ := cmd.Flags().GetInt("batch-size")
			if batch <= 0 {
				return fmt.Errorf("batch size must be positive")
			}
			d := workflow.NewOutboxDispatcher(config.GetDB(), config.GetLogger(), nil)
			d.BatchSize = batch
			n, err := d.Drain(cmd.Context())
			config.GetLogger().WithFields(logrus.Fields{"field": "outbox-drain", "published": n}).Info("outbox drained")
			return err
		},
	}
	cmd.Flags().Int("batch-size", 50, "Rows claimed per dispatch pass")
	return cmd
}

func newNotificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Notification topic and outbox helpers",
	}

	ensure := &cobra.Command{
		Use:   "ensure-topic",
		Short: "Create the notification topic if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := config.GetClient(cmd.Context())
			if err != nil {
				return err
			}
			topic, err := config.CreateTopicIfNotExists(cmd.Context(), client, config.NotificationTopic())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), topic.String())
			return nil
		},
	}

	replay := &cobra.Command{
		Use:     "replay <record-id>",
		Short:   "Queue a FAILED or DEAD notification for another attempt",
		Args:    cobra.ExactArgs(1),
		PreRunE: connectDatabase,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantId, _ := cmd.Flags().GetString("tenant")
			var recordId int
			if _, err := fmt.Sscan(args[0], &recordId); err != nil || recordId <= 0 {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			return models.ReplayNotification(cmd.Context(), tenantId, recordId)
		},
	}
	replay.Flags().String("tenant", "", "Tenant owning the record")
	_ = replay.MarkFlagRequired("tenant")

	cmd.AddCommand(ensure, replay)
	return cmd
}
