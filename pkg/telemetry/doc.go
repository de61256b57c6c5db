// Package telemetry wires logging, tracing, metrics and events for
// stackzilla.
//
// Logging uses zerolog, tracing uses OpenTelemetry with an OTLP or stdout
// exporter, and metrics are Prometheus collectors on a private registry.
// Every component tolerates being disabled so that library callers can pass
// Nop() and tests never need a collector running.
//
// Events are delivered synchronously to subscribers. A JournalWriter
// subscribed to the publisher keeps them as JSON lines for later reading
// with ReadJournal.
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
package telemetry
