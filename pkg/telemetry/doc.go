// Package telemetry provides logging, tracing, metrics and lifecycle events
// for the emulator core.
//
// # Setup
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// Library types (core, rendezvous, lifecycle) accept the individual parts as
// options and default to NopLogger, NopMetrics, NopTracer and NopEvents, so
// they can be used without any telemetry configured.
//
// # Logging
//
// Logger wraps zerolog. Components log through a child logger:
//
//	logger := tel.Logger.NewComponentLogger("core")
//	logger.WithCommand("pause").WithState("paused").Debug("Waiting for state")
//
// SetGlobalLevel changes the level of every logger at once and is used when
// the configuration file is reloaded.
//
// # Metrics
//
// Metrics are registered on a private Prometheus registry and exposed with
// StartMetricsServer. Key series:
//
//   - emusync_state_changes_total{state}
//   - emusync_waiters_resolved_total
//   - emusync_waiters_pending
//   - emusync_commands_total{command,status}
//   - emusync_command_wait_duration_seconds{command}
//   - emusync_rendezvous_requests_total{kind,status}
//   - emusync_rendezvous_request_duration_seconds{kind}
//   - emusync_lifecycle_transitions_total{from,to}
//   - emusync_frames_total
//   - emusync_faults_total{class}
//
// # Tracing
//
// Spans are opened per asynchronous command (core.pause, core.stop, ...) and
// per lifecycle transition. Exporters: "stdout", "otlp" (gRPC) and "none".
//
// # Events
//
// EventPublisher delivers core.ready, emulation.started, emulation.stopped,
// emu_state.changed, command.failed and error events to subscribers. In async
// mode Publish never blocks; events are dropped when the buffer is full.
package telemetry
