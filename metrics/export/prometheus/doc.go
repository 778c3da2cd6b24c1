// Package prometheus exports goIdentity metrics through client_golang.
//
// [Collector] reads [goIdentity.Engine.MetricsSnapshot] on every scrape and
// emits const metrics, so the engine keeps its lock-free counters and nothing
// is double counted. Register it on your own registry or use [Handler].
package prometheus
