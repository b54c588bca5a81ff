package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/event"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

var (
	deadLetterLimit  int
	deadLetterOffset int

	instanceStatus     string
	instanceEntityType string
	instanceEntityID   string
	instanceLimit      int
	cancelReason       string
)

var deadLetterCmd = &cobra.Command{
	Use:   "dead-letter",
	Short: "Inspect and requeue dead-lettered outbox events",
}

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered events, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := startContainer(cmd.Context(), false, true)
		if err != nil {
			return err
		}
		defer closeContainer(c)

		records, err := c.OutboxService().ListByStatus(cmd.Context(), event.StatusFailed, deadLetterLimit, deadLetterOffset)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tAGGREGATE\tSEQ\tATTEMPTS\tLAST ERROR")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s/%s\t%d\t%d\t%s\n",
				r.ID, r.Type, r.AggregateType, r.AggregateID, r.Sequence, r.AttemptCount, r.LastError)
		}
		return w.Flush()
	},
}

var deadLetterRequeueCmd = &cobra.Command{
	Use:   "requeue <event-id>...",
	Short: "Return dead-lettered events to the dispatcher with a fresh attempt budget",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := startContainer(cmd.Context(), false, true)
		if err != nil {
			return err
		}
		defer closeContainer(c)

		for _, id := range args {
			if err := c.OutboxService().Requeue(cmd.Context(), id); err != nil {
				return fmt.Errorf("requeue %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", id)
		}
		return nil
	},
}

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Inspect and cancel workflow instances",
}

var instanceShowCmd = &cobra.Command{
	Use:   "show <instance-id>",
	Short: "Print an instance with its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := startContainer(cmd.Context(), false, true)
		if err != nil {
			return err
		}
		defer closeContainer(c)

		state, err := c.WorkflowEngine().GetInstanceState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), state)
	},
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := entity.InstanceFilter{
			Status:     domainwf.State(instanceStatus),
			EntityType: instanceEntityType,
			EntityID:   instanceEntityID,
			Limit:      instanceLimit,
		}
		if filter.Status != "" && !filter.Status.IsValid() {
			return fmt.Errorf("unknown status %q", instanceStatus)
		}

		c, err := startContainer(cmd.Context(), false, true)
		if err != nil {
			return err
		}
		defer closeContainer(c)

		instances, err := c.WorkflowEngine().ListInstances(cmd.Context(), filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDEFINITION\tENTITY\tSTATUS\tNODE\tREASON")
		for _, i := range instances {
			fmt.Fprintf(w, "%s\t%s v%d\t%s/%s\t%s\t%s\t%s\n",
				i.ID, i.DefinitionName, i.DefinitionVersion, i.EntityType, i.EntityID, i.Status, i.CurrentNodeID, i.Reason)
		}
		return w.Flush()
	},
}

var instanceCancelCmd = &cobra.Command{
	Use:   "cancel <instance-id>",
	Short: "Cancel a running instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := startContainer(cmd.Context(), false, true)
		if err != nil {
			return err
		}
		defer closeContainer(c)

		state, err := c.WorkflowEngine().CancelInstance(cmd.Context(), args[0], cancelReason)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], state)
		return nil
	},
}

func init() {
	deadLetterListCmd.Flags().IntVar(&deadLetterLimit, "limit", 50, "maximum number of events")
	deadLetterListCmd.Flags().IntVar(&deadLetterOffset, "offset", 0, "number of events to skip")
	deadLetterCmd.AddCommand(deadLetterListCmd, deadLetterRequeueCmd)

	instanceListCmd.Flags().StringVar(&instanceStatus, "status", "", "filter by status (running, completed, rejected, cancelled, error)")
	instanceListCmd.Flags().StringVar(&instanceEntityType, "entity-type", "", "filter by entity type")
	instanceListCmd.Flags().StringVar(&instanceEntityID, "entity-id", "", "filter by entity id")
	instanceListCmd.Flags().IntVar(&instanceLimit, "limit", 50, "maximum number of instances")
	instanceCancelCmd.Flags().StringVar(&cancelReason, "reason", "cancelled by operator", "cancellation reason")
	instanceCmd.AddCommand(instanceShowCmd, instanceListCmd, instanceCancelCmd)
}
