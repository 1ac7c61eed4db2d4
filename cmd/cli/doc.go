// Package cli constructs the procexec command-line interface. It wires the
// Cobra command hierarchy (run and render), the Viper configuration loader
// and zap logging, and maps process outcomes onto the exit code of the CLI.
package cli
