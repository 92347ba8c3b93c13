//go:build !windows

package detector

import "os/exec"

func getTrueCommand() *exec.Cmd {
	return exec.Command("/bin/true")
}

func getShellCommand(cmdStr string) *exec.Cmd {
	return exec.Command("/bin/sh", "-c", cmdStr)
}
