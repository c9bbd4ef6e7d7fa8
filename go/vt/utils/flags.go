/*
Copyright 2025 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package utils holds flag registration helpers. Flags are registered under
// their dashed name, with an underscored alias kept for compatibility with
// older invocations.
package utils

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// underscoreVariant returns the underscored spelling of a dashed flag name,
// or "" when the name contains no dashes.
func underscoreVariant(name string) string {
	if !strings.Contains(name, "-") {
		return ""
	}
	return strings.ReplaceAll(name, "-", "_")
}

func markAlias(fs *pflag.FlagSet, alias, name string) {
	// The alias parses like the real flag but stays out of help output.
	_ = fs.MarkDeprecated(alias, "use --"+name+" instead")
	_ = fs.MarkHidden(alias)
}

// SetFlagVar registers a pflag.Value flag plus its underscored alias.
func SetFlagVar(fs *pflag.FlagSet, value pflag.Value, name string, usage string) {
	fs.Var(value, name, usage)
	if alias := underscoreVariant(name); alias != "" {
		fs.Var(value, alias, usage)
		markAlias(fs, alias, name)
	}
}

// SetFlagStringVar registers a string flag plus its underscored alias.
func SetFlagStringVar(fs *pflag.FlagSet, p *string, name string, value string, usage string) {
	fs.StringVar(p, name, value, usage)
	if alias := underscoreVariant(name); alias != "" {
		fs.StringVar(p, alias, value, usage)
		markAlias(fs, alias, name)
	}
}

// SetFlagBoolVar registers a bool flag plus its underscored alias.
func SetFlagBoolVar(fs *pflag.FlagSet, p *bool, name string, value bool, usage string) {
	fs.BoolVar(p, name, value, usage)
	if alias := underscoreVariant(name); alias != "" {
		fs.BoolVar(p, alias, value, usage)
		markAlias(fs, alias, name)
	}
}

// SetFlagIntVar registers an int flag plus its underscored alias.
func SetFlagIntVar(fs *pflag.FlagSet, p *int, name string, value int, usage string) {
	fs.IntVar(p, name, value, usage)
	if alias := underscoreVariant(name); alias != "" {
		fs.IntVar(p, alias, value, usage)
		markAlias(fs, alias, name)
	}
}

// SetFlagDurationVar registers a time.Duration flag plus its underscored alias.
func SetFlagDurationVar(fs *pflag.FlagSet, p *time.Duration, name string, value time.Duration, usage string) {
	fs.DurationVar(p, name, value, usage)
	if alias := underscoreVariant(name); alias != "" {
		fs.DurationVar(p, alias, value, usage)
		markAlias(fs, alias, name)
	}
}
