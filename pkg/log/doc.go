/*
Package log provides structured logging for Relay using zerolog.

The package wraps a single global zerolog.Logger, initialized once by the relay
binary, and hands out child loggers tagged with the component or entity they
describe. All output carries a timestamp; JSON output is meant for production and
the console writer for development.

# Usage

Initializing the Logger:

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stdout,
	})

Component Loggers:

	routerLog := log.WithComponent("router")
	routerLog.Info().
		Str("command_type", cmd.Type).
		Str("target", target.InstanceID).
		Msg("command dispatched")

Context Logger Helpers:

	log.WithInstanceID("svc-1").Warn().Msg("heartbeat for unknown instance")
	log.WithAggregateID("order-42").Debug().Int64("seq", 7).Msg("event appended")
	log.WithOperation("orders:CreateOrder").Info().Msg("circuit opened")

# Log Levels

  - debug: per-request detail (dispatch targets, forwarded events)
  - info: lifecycle (registrations, server start/stop, breaker transitions)
  - warn: degraded behaviour (forward failures, dropped watchers, sweeps)
  - error: failed operations that need attention
*/
package log
