package logging

import "go.uber.org/zap/zapcore"

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// Speaker tags every log line with this daemon instance's name, so logs
	// from several babeld speakers in the same test network (or the same
	// host, one per interface) can be told apart once aggregated. Empty
	// leaves log lines untagged.
	Speaker string `yaml:"speaker"`
}
