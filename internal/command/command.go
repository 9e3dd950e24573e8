// Package command describes a process to execute.
package command

import (
	"strings"
	"time"
)

// Spec is a ready-to-run command. It is built by the caller and only read
// by the runner.
type Spec struct {
	Program string        `json:"program" yaml:"program" toml:"program"`
	Args    []string      `json:"args,omitempty" yaml:"args" toml:"args"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"-" toml:"-"`
	Dir     string        `json:"dir,omitempty" yaml:"dir" toml:"dir"` // empty inherits the caller's working directory
	Env     []string      `json:"env,omitempty" yaml:"env" toml:"env"` // KEY=VALUE entries appended to the inherited environment
}

// New returns a Spec for program with the given arguments.
func New(program string, args ...string) Spec {
	return Spec{Program: program, Args: append([]string(nil), args...)}
}

// FromArgv builds a Spec from an argv slice, where argv[0] is the program.
func FromArgv(argv []string) Spec {
	if len(argv) == 0 {
		return Spec{}
	}
	return New(argv[0], argv[1:]...)
}

// WithTimeout returns a copy of s with its timeout override set.
func (s Spec) WithTimeout(d time.Duration) Spec {
	s.Args = append([]string(nil), s.Args...)
	s.Env = append([]string(nil), s.Env...)
	s.Timeout = d
	return s
}

// Argv returns the program followed by its arguments.
func (s Spec) Argv() []string {
	return append([]string{s.Program}, s.Args...)
}

// String renders the command line for logs. It is not shell-safe.
func (s Spec) String() string {
	return strings.Join(s.Argv(), " ")
}
