// Package telemetry provides logging, tracing, metrics and run events for
// powerdown.
//
// A run builds one Telemetry from configuration and passes it to the engine:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Logging
//
// Logger wraps zerolog. Components derive child loggers:
//
//	logger := tel.Logger.NewComponentLogger("convergence").WithRunID(runID)
//	logger.Infof("%d guest VMs still powered on", n)
//
// Libraries that take a zerolog.Logger get it from Logger.Zerolog.
//
// # Tracing
//
// Each phase of a run (classify, apps.stop, converge) gets a span under the
// run's root span. Exporters: none (default), stdout and otlp. Spans are
// exported synchronously since a run is a short-lived process.
//
// # Metrics
//
// Metrics live on a private Prometheus registry. There is no HTTP endpoint;
// Flush writes the registry to Config.Metrics.TextfilePath for the
// node_exporter textfile collector.
//
// # Events
//
// EventPublisher delivers events synchronously and in order. The run report
// subscribes with FilterByRunID to build its timeline.
package telemetry
