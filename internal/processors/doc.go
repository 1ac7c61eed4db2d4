// Package processors drains the standard streams of a running process on a shared worker pool
// and hands every complete line to a Processor callback.
package processors
