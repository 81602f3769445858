// Package server provides the HTTP control API: bot session creation,
// status queries, leave requests, and the monitoring endpoints (health,
// stats, Prometheus metrics).
package server
