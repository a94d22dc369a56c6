//go:build windows

package runner

import "os/exec"

func setupProcessGroup(_ *exec.Cmd) {}

// killProcessGroup kills the direct child only; Windows has no POSIX
// process groups, and job-object handling is out of scope here.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
