package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/relay/pkg/types"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Append and follow aggregate events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail [AGGREGATE_ID]",
	Short: "Print events as they are appended",
	Long: `Print events as they are appended, one JSON document per line.

Without an aggregate id every aggregate is followed. With --from, the
stored history of the aggregate is printed first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		aggregateID := ""
		if len(args) == 1 {
			aggregateID = args[0]
		}
		from, _ := cmd.Flags().GetInt64("from")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		enc := json.NewEncoder(cmd.OutOrStdout())
		if from > 0 {
			if aggregateID == "" {
				return fmt.Errorf("--from needs an aggregate id")
			}
			history, err := c.LoadEvents(ctx, aggregateID, from)
			if err != nil {
				return fmt.Errorf("failed to load events: %w", err)
			}
			for _, ev := range history {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
		}
		return c.TailEvents(ctx, aggregateID, func(ev types.Event) error {
			return enc.Encode(ev)
		})
	},
}

// eventFile is the YAML accepted by 'relay events append -f'
type eventFile struct {
	AggregateID    string            `yaml:"aggregateId"`
	AggregateType  string            `yaml:"aggregateType"`
	EventType      string            `yaml:"eventType"`
	SequenceNumber int64             `yaml:"sequenceNumber"`
	Metadata       map[string]string `yaml:"metadata,omitempty"`
	PayloadType    string            `yaml:"payloadType,omitempty"`
	Payload        interface{}       `yaml:"payload,omitempty"`
}

func (f eventFile) event() (types.Event, error) {
	ev := types.Event{
		AggregateID:    f.AggregateID,
		AggregateType:  f.AggregateType,
		EventType:      f.EventType,
		SequenceNumber: f.SequenceNumber,
		Metadata:       f.Metadata,
	}
	if f.Payload != nil {
		typ := f.PayloadType
		if typ == "" {
			typ = f.EventType
		}
		p, err := types.NewPayload(typ, f.Payload)
		if err != nil {
			return types.Event{}, err
		}
		ev.Payload = p
	}
	return ev, nil
}

func parseEventFile(data []byte) (types.Event, error) {
	var f eventFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return types.Event{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return f.event()
}

var eventsAppendCmd = &cobra.Command{
	Use:   "append -f FILE",
	Short: "Append an event described in a YAML file",
	Long: `Append an event described in a YAML file.

Example file:

  aggregateId: order-1
  aggregateType: Order
  eventType: OrderCreated
  payload:
    orderId: order-1
    amount: 42

When sequenceNumber is omitted the next free sequence number is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		ev, err := parseEventFile(data)
		if err != nil {
			return err
		}

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		if ev.SequenceNumber == 0 {
			next, err := c.NextSequence(ctx, ev.AggregateID)
			if err != nil {
				return fmt.Errorf("failed to get next sequence: %w", err)
			}
			ev.SequenceNumber = next
		}

		stored, err := c.AppendEvent(ctx, ev)
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Appended %s to %s at sequence %d (%s)\n",
			stored.EventType, stored.AggregateID, stored.SequenceNumber, stored.EventID)
		return nil
	},
}

func init() {
	eventsCmd.AddCommand(eventsTailCmd)
	eventsCmd.AddCommand(eventsAppendCmd)

	eventsTailCmd.Flags().Int64("from", 0, "Print stored events from this sequence number first")
	eventsAppendCmd.Flags().StringP("file", "f", "", "YAML file describing the event (required)")
	_ = eventsAppendCmd.MarkFlagRequired("file")
}
