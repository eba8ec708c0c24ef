// Package logging provides structured logging for pipeline runs.
//
// It wraps Go's log/slog package. A Logger always writes human-readable text
// to a terminal stream (stderr) at the level chosen on the command line, and
// once a run root exists it can additionally mirror records into two files
// inside it:
//
//	output.log  every record at or above the configured level
//	error.log   ERROR records only
//
// Child loggers created with With, WithStage or WithChannel share the
// underlying sinks, so files attached after a child was created still
// receive that child's records.
package logging
