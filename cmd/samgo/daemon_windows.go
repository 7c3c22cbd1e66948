//go:build windows

package main

import "os/exec"

func configureDaemonAttrs(cmd *exec.Cmd) {}

// isDaemonSupported is false: the exec launcher needs POSIX signals.
func isDaemonSupported() bool { return false }
