//go:build !unix

package runner

import (
	"errors"
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// singleProcess has no polite termination signal; both steps kill.
type singleProcess struct {
	p *os.Process
}

func newProcess(p *os.Process) singleProcess {
	return singleProcess{p: p}
}

func (s singleProcess) Terminate() error { return s.Kill() }

func (s singleProcess) Kill() error {
	if err := s.p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func signalGroup(p *os.Process, sig os.Signal) error {
	return p.Signal(sig)
}
