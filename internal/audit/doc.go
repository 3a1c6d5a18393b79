// Package audit keeps the command_log table: one row per command the
// Lightify bridge executed, whether it reached the gateway or not.
//
// SQLiteRepository satisfies lightify.CommandAuditor so the bridge records
// each outcome, and the HTTP API pages through the history with List.
package audit
