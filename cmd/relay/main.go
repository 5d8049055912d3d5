package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/relay/pkg/client"
	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/coordinator"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/security"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - command, query and event routing for distributed services",
	Long: `Relay routes commands and queries to healthy application instances,
keeps an append-only event log per aggregate and broadcasts events to
other nodes over Kafka or NATS.

Run 'relay serve' to start a coordinator; the other commands talk to a
running coordinator over gRPC.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Relay version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().String("coordinator", "localhost:7070", "Coordinator gRPC address")
	rootCmd.PersistentFlags().String("tls-ca", "", "CA certificate used to verify the coordinator (enables TLS)")
	rootCmd.PersistentFlags().String("tls-cert", "", "Client certificate for coordinators that verify clients")
	rootCmd.PersistentFlags().String("tls-key", "", "Key of the client certificate")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(commandCmd)
	rootCmd.AddCommand(queryCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Relay version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a relay coordinator",
	Long: `Run a relay coordinator node.

Settings come from, in increasing precedence: built-in defaults, the file
given with --config, RELAY_* environment variables (RELAY_API_ADDRESS,
RELAY_STORE_DRIVER, ...) and command line flags.`,
	RunE: runServe,
}

// serveFlags maps flags onto configuration keys
var serveFlags = map[string]string{
	"node-id":       "node.id",
	"data-dir":      "node.data_dir",
	"api-addr":      "api.address",
	"health-addr":   "health.address",
	"store":         "store.driver",
	"postgres-dsn":  "store.postgres.dsn",
	"broadcast":     "broadcast.driver",
	"kafka-brokers": "broadcast.kafka.brokers",
	"nats-url":      "broadcast.nats.url",
	"dns":           "dns.enabled",
	"dns-addr":      "dns.address",
	"log-level":     "log.level",
	"log-json":      "log.json",
}

func init() {
	f := serveCmd.Flags()
	f.StringP("config", "c", "", "Path to a YAML configuration file")
	f.String("node-id", "", "Unique node ID (defaults to the hostname)")
	f.String("data-dir", "./relay-data", "Data directory for the bolt store")
	f.String("api-addr", ":7070", "Address for the gRPC API")
	f.String("health-addr", ":9090", "Address for /health, /ready and /metrics (empty disables)")
	f.String("store", config.StoreBolt, "Event store driver: bolt, postgres or memory")
	f.String("postgres-dsn", "", "Postgres connection string for the postgres store")
	f.String("broadcast", config.BroadcastNone, "Broadcast driver: none, kafka or nats")
	f.StringSlice("kafka-brokers", nil, "Kafka seed brokers")
	f.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	f.Bool("dns", false, "Serve registry lookups over DNS")
	f.String("dns-addr", "127.0.0.1:8600", "UDP address for the DNS server")
	f.String("log-level", "info", "Log level: debug, info, warn or error")
	f.Bool("log-json", false, "Log in JSON format")
}

func runServe(cmd *cobra.Command, args []string) error {
	v := config.New()
	for flag, key := range serveFlags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	if v.GetString("node.id") == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("node id not set and hostname unavailable: %w", err)
		}
		v.Set("node.id", host)
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFrom(v, path)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := coordinator.New(ctx, cfg, coordinator.WithVersion(Version))
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Stop(context.Background())
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Relay coordinator %s listening on %s. Press Ctrl+C to stop.\n", cfg.Node.ID, c.Addr())
	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Shutdown complete")
	return nil
}

// dial connects to the coordinator named by --coordinator
func dial(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("coordinator")
	files := security.TLSFiles{}
	files.CAFile, _ = cmd.Flags().GetString("tls-ca")
	files.CertFile, _ = cmd.Flags().GetString("tls-cert")
	files.KeyFile, _ = cmd.Flags().GetString("tls-key")

	var opts []client.Option
	if files.Enabled() {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		tlsCfg, err := security.ClientConfig(files, host)
		if err != nil {
			return nil, fmt.Errorf("failed to load tls configuration: %w", err)
		}
		opts = append(opts, client.WithTLS(tlsCfg))
	}

	c, err := client.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	return c, nil
}
