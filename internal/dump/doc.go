// Package dump persists the captured I/O of a failed process for later diagnosis.
//
// A dump file starts with a YAML metadata document describing the execution, followed by a
// document separator and every captured line tagged with its stream.
package dump
