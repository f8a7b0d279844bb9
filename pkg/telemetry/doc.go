// Package telemetry provides comprehensive observability instrumentation for OpenLander.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging OpenLander deployment runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "openlander"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithRunID("run-123").WithRegion("westeurope")
//	logger.Info("Starting deployment attempt")
//	logger.WithError(err).Error("Deployment failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    attribute.String("run.id", runID),
//	    attribute.String("region.name", region),
//	)
//
//	// Record events
//	span.AddEvent("validation.complete")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record run execution
//	tel.Metrics.RecordRunStarted("staging")
//	tel.Metrics.RecordRunCompleted("succeeded", duration)
//
//	// Record attempt execution
//	tel.Metrics.RecordAttempt("failed", "quota_exceeded", "westeurope", "premium", duration)
//
//	// Record provider calls
//	tel.Metrics.RecordProviderCall("azcli", "apply", duration)
//
//	// Record errors
//	tel.Metrics.RecordError("transient", "TIMEOUT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishRunStarted(runID, environment)
//	tel.Events.PublishAttemptFailed(runID, attempt, region, errorKind, ruleID)
//	tel.Events.PublishFixApplied(runID, ruleID, path, verification)
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByRegion
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "template.validate",
//	    attribute.String("template.path", templatePath))
//	defer ic.End(err)
//
//	ic.Logger.Info("Validating template")
//
//	// Run context
//	ctx = telemetry.WithRunContext(ctx, runID, environment)
//	defer telemetry.EndRunContext(ctx, runID, state, err)
//
//	// Attempt context
//	ctx = telemetry.WithAttemptContext(ctx, runID, attempt, region, tier)
//	defer telemetry.EndAttemptContext(ctx, runID, attempt, region, tier, status, errorKind, err)
//
//	// Provider operation
//	err := telemetry.RecordProviderOperation(ctx, "azcli", "apply", func() error {
//	    return provider.Apply(ctx, deployment)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//   - All buffered events are published
//   - All pending traces are exported
//   - Metrics are finalized
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - openlander_runs_started_total{environment}
//   - openlander_runs_completed_total{state}
//   - openlander_run_duration_seconds{state}
//   - openlander_attempts_executed_total{status,error_kind}
//   - openlander_attempt_duration_seconds{region,tier}
//   - openlander_backoff_duration_seconds{error_kind}
//   - openlander_classifications_total{kind,rule_id}
//   - openlander_fixes_applied_total{rule_id,verification}
//   - openlander_fixes_gated_total{rule_id,risk}
//   - openlander_region_resolutions_total{region,tier}
//   - openlander_probes_executed_total{type,result}
//   - openlander_provider_calls_total{provider,operation}
//   - openlander_errors_by_class_total{class}
//   - openlander_active_runs
//   - openlander_runs_backing_off
//
// # Security Considerations
//
//   - Never log sensitive data (credentials, keys, tokens)
//   - Use secure connections (TLS) for trace exporters in production
//   - Limit metrics endpoint access via network policies
//   - Consider event data before adding to audit logs
package telemetry
