//go:build windows

package detector

import "os/exec"

func getTrueCommand() *exec.Cmd {
	return exec.Command("cmd", "/c", "rem")
}

func getShellCommand(cmdStr string) *exec.Cmd {
	return exec.Command("cmd", "/c", cmdStr)
}
