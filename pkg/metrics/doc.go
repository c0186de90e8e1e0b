// Package metrics defines and registers Helmsman's Prometheus metrics:
// bus operation latency/outcomes, optimizer fitness/iteration counts,
// deployment/phase durations, rollback outcomes, and recovery queue
// depth. Metrics are exposed via Handler() for scraping.
//
// Components record metrics with a Timer (NewTimer/ObserveDuration) the
// same way cuemby-warren's scheduler and reconciler do, and use
// RegisterComponent/UpdateComponent with GetHealth/GetReadiness behind
// HealthHandler, ReadyHandler and LivenessHandler, the endpoints consumed
// by orchestration tooling outside this module.
package metrics
