// This module provides integration of cobra/pflag flags with environment
// variables, so that any management-subcommand setting can be given either
// as `cache-tool limits --max-size 10G` or `CACHE_MAXSIZE=10G cache-tool limits`.
package common

import (
	"os"

	"github.com/spf13/pflag"
)

// BindEnvString registers a string flag on fs that falls back to envName
// when the flag wasn't passed on the command line.
func BindEnvString(fs *pflag.FlagSet, p *string, flagName string, defaultValue string, envName string, usage string) {
	fs.StringVar(p, flagName, defaultValue, usage)
	if v, ok := os.LookupEnv(envName); ok && !fs.Changed(flagName) {
		*p = v
	}
}

// BindEnvBool is BindEnvString for booleans.
func BindEnvBool(fs *pflag.FlagSet, p *bool, flagName string, defaultValue bool, envName string, usage string) {
	fs.BoolVar(p, flagName, defaultValue, usage)
	if v, ok := os.LookupEnv(envName); ok && !fs.Changed(flagName) {
		*p = v == "1" || v == "true"
	}
}

// BindEnvInt64 is BindEnvString for integers.
func BindEnvInt64(fs *pflag.FlagSet, p *int64, flagName string, defaultValue int64, envName string, usage string) {
	fs.Int64Var(p, flagName, defaultValue, usage)
	if v, ok := os.LookupEnv(envName); ok && !fs.Changed(flagName) {
		if n, err := ParseHumanSize(v); err == nil {
			*p = n
		}
	}
}
