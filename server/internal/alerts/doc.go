// Package alerts notifies webhooks when a committed batch contains
// out-of-spec results. Results at or above the configured minimum severity
// are grouped per (project, test type); each group fires at most once per
// cooldown. Targets are Slack, Teams or generic HTTP.
package alerts
