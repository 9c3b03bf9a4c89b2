//go:build !linux && !windows

package host

import "syscall"

func setDeathSignal(*syscall.SysProcAttr) {}
