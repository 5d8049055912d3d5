package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cuemby/relay/pkg/types"
)

var commandCmd = &cobra.Command{
	Use:   "command",
	Short: "Submit commands",
}

var commandSubmitCmd = &cobra.Command{
	Use:   "submit TYPE",
	Short: "Route a command to a capable instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		aggregateID, _ := cmd.Flags().GetString("aggregate")
		payload, err := payloadFlag(cmd, args[0])
		if err != nil {
			return err
		}
		metadata, _ := cmd.Flags().GetStringToString("meta")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.SubmitCommand(cmd.Context(), types.CommandEnvelope{
			Type:        args[0],
			AggregateID: aggregateID,
			Payload:     payload,
			Metadata:    metadata,
		})
		if resp != nil {
			if perr := printJSON(cmd.OutOrStdout(), resp); perr != nil {
				return perr
			}
		}
		return err
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Submit queries",
}

var querySubmitCmd = &cobra.Command{
	Use:   "submit TYPE",
	Short: "Route a query to a capable instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := payloadFlag(cmd, args[0])
		if err != nil {
			return err
		}
		metadata, _ := cmd.Flags().GetStringToString("meta")
		expect, _ := cmd.Flags().GetString("expect")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.SubmitQuery(cmd.Context(), types.QueryEnvelope{
			Type:                 args[0],
			Payload:              payload,
			Metadata:             metadata,
			ExpectedResponseType: expect,
		})
		if resp != nil {
			if perr := printJSON(cmd.OutOrStdout(), resp); perr != nil {
				return perr
			}
		}
		return err
	},
}

// payloadFlag reads --payload as JSON typed by --payload-type, defaulting
// to the message type
func payloadFlag(cmd *cobra.Command, messageType string) (types.Payload, error) {
	raw, _ := cmd.Flags().GetString("payload")
	typ, _ := cmd.Flags().GetString("payload-type")
	if typ == "" {
		typ = messageType
	}
	if raw == "" {
		return types.Payload{Type: typ}, nil
	}
	if !json.Valid([]byte(raw)) {
		return types.Payload{}, fmt.Errorf("--payload is not valid JSON")
	}
	return types.Payload{Type: typ, Data: json.RawMessage(raw)}, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func init() {
	commandCmd.AddCommand(commandSubmitCmd)
	queryCmd.AddCommand(querySubmitCmd)

	for _, c := range []*cobra.Command{commandSubmitCmd, querySubmitCmd} {
		c.Flags().String("payload", "", "Payload as a JSON document")
		c.Flags().String("payload-type", "", "Payload type name (defaults to the message type)")
		c.Flags().StringToString("meta", nil, "Metadata key=value pairs")
	}
	commandSubmitCmd.Flags().String("aggregate", "", "Target aggregate id")
	querySubmitCmd.Flags().String("expect", "", "Expected response type")
}
