// Package logging configures structured slog output for notegraph.
// Logs go to stderr by default; with --debug, JSON logs are also written to a
// size-rotated file under ~/.notegraph/logs/. The MCP server logs to the file
// only, since stdout carries the JSON-RPC stream.
package logging
