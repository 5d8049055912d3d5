package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/relay/pkg/types"
)

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"instance"},
	Short:   "Inspect registered application instances",
}

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, _ := cmd.Flags().GetString("service")
		healthyOnly, _ := cmd.Flags().GetBool("healthy")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		var list []types.ServiceInstance
		if healthyOnly || len(tags) > 0 {
			list, err = c.Healthy(ctx, service, tags...)
		} else {
			list, err = c.ListInstances(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to list instances: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSERVICE\tADDRESS\tSTATUS\tCAPABILITIES\tLAST HEARTBEAT")
		for _, inst := range list {
			if service != "" && inst.ServiceName != service {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				inst.InstanceID,
				inst.ServiceName,
				inst.Address(),
				inst.Status,
				strings.Join(inst.CommandTypes, ","),
				inst.LastHeartbeat.Format(time.RFC3339),
			)
		}
		return w.Flush()
	},
}

var instancesDeregisterCmd = &cobra.Command{
	Use:   "deregister INSTANCE_ID",
	Short: "Remove an instance from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := c.Unregister(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to deregister %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Instance %s deregistered\n", args[0])
		return nil
	},
}

func init() {
	instancesCmd.AddCommand(instancesListCmd)
	instancesCmd.AddCommand(instancesDeregisterCmd)

	instancesListCmd.Flags().String("service", "", "Only show instances of this service")
	instancesListCmd.Flags().Bool("healthy", false, "Only show instances that can take traffic")
	instancesListCmd.Flags().StringSlice("tag", nil, "Only show healthy instances carrying this tag (repeatable)")
}
