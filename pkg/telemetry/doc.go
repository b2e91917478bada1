// Package telemetry bundles the zerolog logger, OpenTelemetry tracer,
// Prometheus metrics and lifecycle event publisher used by the object store
// and the task manager.
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	store, err := objectstore.Open(ctx, cfg, objectstore.WithTelemetry(tel))
//
// Components constructed without a bundle use [Nop] parts, which discard
// everything.
//
// Metrics are exported under the configured namespace:
//
//	burnet_pool_capacity
//	burnet_pool_connections_created
//	burnet_pool_connections_in_use
//	burnet_pool_waits_total
//	burnet_store_operations_total{operation,outcome}
//	burnet_store_operation_duration_seconds{operation}
//	burnet_store_sessions_total{outcome}
//	burnet_tasks_started_total{target}
//	burnet_tasks_completed_total{status}
//	burnet_tasks_duration_seconds{status}
//	burnet_tasks_running
package telemetry
