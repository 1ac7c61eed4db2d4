//go:build !unix

package execution

import (
	"errors"
	"os/exec"
	"syscall"
)

func configureProcessGroup(*exec.Cmd) {}

func signalProcessGroup(int, syscall.Signal) error {
	return errors.ErrUnsupported
}
