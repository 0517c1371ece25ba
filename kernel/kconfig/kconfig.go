// Package kconfig holds the tunables of the kernel core. Values are read from
// the boot command line as space separated key=value options; options that
// are unknown or fail to parse are reported and the defaults are retained.
package kconfig

import "gophercore/kernel/kfmt"

// Config describes the tunable kernel parameters.
type Config struct {
	// TimerHz is the PIT interrupt frequency.
	TimerHz uint32

	// Quantum is the number of timer ticks a task may run before it is
	// preempted.
	Quantum uint32

	// StackPages is the number of pages backing each kernel task stack.
	StackPages uint32

	// LazyAlloc enables demand-zero backing for reserved address ranges.
	LazyAlloc bool

	// Verbose enables debug output from the kernel subsystems.
	Verbose bool
}

const (
	minTimerHz = 19
	maxTimerHz = 1193182

	maxStackPages = 64
)

// Default returns the configuration used when no options are supplied.
func Default() Config {
	return Config{
		TimerHz:    100,
		Quantum:    1,
		StackPages: 4,
		LazyAlloc:  true,
	}
}

// Parse applies the options in cmdLine on top of the default configuration.
// It returns the resulting configuration and the number of rejected options.
func Parse(cmdLine string) (Config, int) {
	cfg := Default()
	rejected := 0

	for len(cmdLine) > 0 {
		var opt string
		opt, cmdLine = nextField(cmdLine)
		if opt == "" {
			continue
		}

		key, val, hasVal := splitOption(opt)
		if !cfg.apply(key, val, hasVal) {
			kfmt.Printf("[kconfig] ignoring invalid option: %s\n", opt)
			rejected++
		}
	}

	return cfg, rejected
}

func (cfg *Config) apply(key, val string, hasVal bool) bool {
	switch key {
	case "verbose":
		if !hasVal {
			cfg.Verbose = true
			return true
		}
		return parseBool(val, &cfg.Verbose)
	case "vmm.lazy":
		return hasVal && parseBool(val, &cfg.LazyAlloc)
	case "timer.hz":
		return hasVal && parseUint(val, minTimerHz, maxTimerHz, &cfg.TimerHz)
	case "sched.quantum":
		return hasVal && parseUint(val, 1, 1<<16, &cfg.Quantum)
	case "sched.stackpages":
		return hasVal && parseUint(val, 1, maxStackPages, &cfg.StackPages)
	}

	return false
}

// nextField returns the first space separated field of s and the remainder.
func nextField(s string) (string, string) {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}

	end := 0
	for end < len(s) && s[end] != ' ' && s[end] != '\t' {
		end++
	}

	return s[:end], s[end:]
}

func splitOption(opt string) (string, string, bool) {
	for i := 0; i < len(opt); i++ {
		if opt[i] == '=' {
			return opt[:i], opt[i+1:], true
		}
	}
	return opt, "", false
}

// parseUint parses a decimal value in [lo, hi] into out. The strconv
// package is avoided since its error values are heap allocated.
func parseUint(s string, lo, hi uint32, out *uint32) bool {
	if len(s) == 0 || len(s) > 10 {
		return false
	}

	var v uint64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
		v = v*10 + uint64(s[i]-'0')
	}

	if v < uint64(lo) || v > uint64(hi) {
		return false
	}

	*out = uint32(v)
	return true
}

func parseBool(s string, out *bool) bool {
	switch s {
	case "1", "on", "true", "yes":
		*out = true
	case "0", "off", "false", "no":
		*out = false
	default:
		return false
	}
	return true
}
