// Package utils holds the ambient helpers of the procexec CLI.
//
// ConfigurationLoader merges embedded defaults, configuration files and
// PROCEXEC_ environment variables through Viper. LoggerFactory builds zap
// loggers, and FlushingWriter serializes terminal output of captured lines.
package utils
