// Package iolog captures the standard streams of a process as typed, complete lines.
package iolog
