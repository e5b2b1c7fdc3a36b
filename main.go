// Package main is the entry point for the outreach service and CLI.
//
// Architecture overview:
//   - HTTP API: internal/api exposes health, metrics, phone normalization and the outreach endpoints
//     (send, quota, settings reload, reply and conversion tracking). Requests are validated before they reach
//     the orchestrator.
//   - Orchestrator: internal/outreach.Service validates the phone, asks the throttle chain (daily caps plus an
//     optional cooldown/hourly limiter) for admission, checks dedup, composes the message, reserves a pending
//     record atomically against the daily caps, dispatches the WhatsApp launch target and confirms the record.
//   - Persistence: Postgres via pgx when db.dsn is set, otherwise an in-memory store. A circuit breaker wraps
//     the backend. Backend settings are loaded and awaited at startup.
//   - Fanout: a Pub/Sub event is published per successful send when pubsub.topic_name is set.
//   - Configuration & plumbing: Viper populates config from env/files (OUTREACH_ prefix); zap provides
//     structured logging; Prometheus metrics are exported at /metrics.
//
// Quick checklist:
//   - Run locally: go run . serve --config config.yaml (or rely on env overrides such as OUTREACH_DB_DSN).
//   - Create tables: go run . migrate.
//   - One-off send: go run . send --phone "55 1234 5678" --company "Tacos Ana" --source manual.
package main

import (
	"github.com/GeobookerMx/Geobooker3-sub001/cmd"
)

func main() {
	cmd.Execute()
}
