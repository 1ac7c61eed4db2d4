package run

import (
	"fmt"
	"strings"
	"time"
)

const (
	expectedExitValueKeyConstant = "expected_exit_value"
	ignoreExitValueKeyConstant   = "ignore_exit_value"
	dumpDirectoryKeyConstant     = "dump_directory"
	dumpPrefixKeyConstant        = "dump_prefix"
	stripANSIKeyConstant         = "strip_ansi"
	gracePeriodKeyConstant       = "grace_period"
	settleIntervalKeyConstant    = "settle_interval"
	workerLimitKeyConstant       = "worker_limit"
	colorKeyConstant             = "color"
	logOutputKeyConstant         = "log_output"
	environmentKeyConstant       = "environment"
	configurationKeyJoinConstant = "."

	defaultDumpPrefixConstant     = "process"
	defaultGracePeriodConstant    = 500 * time.Millisecond
	defaultSettleIntervalConstant = 20 * time.Millisecond

	unsupportedColorTemplateConstant    = "unsupported color mode %q; expected auto, always or never"
	negativeDurationTemplateConstant    = "%s must not be negative: %s"
	negativeWorkerLimitTemplateConstant = "worker_limit must not be negative: %d"
)

// Colour modes accepted by the color setting.
const (
	// ColorAuto colours output only when standard output is a terminal.
	ColorAuto = "auto"

	// ColorAlways colours output unconditionally.
	ColorAlways = "always"

	// ColorNever disables colouring.
	ColorNever = "never"
)

// CommandConfiguration holds the configured defaults of the run command.
type CommandConfiguration struct {
	ExpectedExitValue int           `mapstructure:"expected_exit_value"`
	IgnoreExitValue   bool          `mapstructure:"ignore_exit_value"`
	DumpDirectory     string        `mapstructure:"dump_directory"`
	DumpPrefix        string        `mapstructure:"dump_prefix"`
	StripANSI         bool          `mapstructure:"strip_ansi"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	SettleInterval    time.Duration `mapstructure:"settle_interval"`
	WorkerLimit       int64         `mapstructure:"worker_limit"`
	Environment       []string      `mapstructure:"environment"`
	Color             string        `mapstructure:"color"`
	LogOutput         bool          `mapstructure:"log_output"`
}

// DefaultConfigurationValues returns the viper defaults of the run command rooted at prefix.
func DefaultConfigurationValues(prefix string) map[string]any {
	configurationKey := func(name string) string {
		return prefix + configurationKeyJoinConstant + name
	}
	return map[string]any{
		configurationKey(expectedExitValueKeyConstant): 0,
		configurationKey(ignoreExitValueKeyConstant):   false,
		configurationKey(dumpDirectoryKeyConstant):     "",
		configurationKey(dumpPrefixKeyConstant):        defaultDumpPrefixConstant,
		configurationKey(stripANSIKeyConstant):         false,
		configurationKey(gracePeriodKeyConstant):       defaultGracePeriodConstant,
		configurationKey(settleIntervalKeyConstant):    defaultSettleIntervalConstant,
		configurationKey(workerLimitKeyConstant):       0,
		configurationKey(colorKeyConstant):             ColorAuto,
		configurationKey(logOutputKeyConstant):         false,
		configurationKey(environmentKeyConstant):       []string{},
	}
}

// Validate reports values the run command cannot honour.
func (configuration CommandConfiguration) Validate() error {
	switch strings.ToLower(strings.TrimSpace(configuration.Color)) {
	case ColorAuto, ColorAlways, ColorNever, "":
	default:
		return fmt.Errorf(unsupportedColorTemplateConstant, configuration.Color)
	}
	if configuration.GracePeriod < 0 {
		return fmt.Errorf(negativeDurationTemplateConstant, gracePeriodKeyConstant, configuration.GracePeriod)
	}
	if configuration.SettleInterval < 0 {
		return fmt.Errorf(negativeDurationTemplateConstant, settleIntervalKeyConstant, configuration.SettleInterval)
	}
	if configuration.WorkerLimit < 0 {
		return fmt.Errorf(negativeWorkerLimitTemplateConstant, configuration.WorkerLimit)
	}
	return nil
}
