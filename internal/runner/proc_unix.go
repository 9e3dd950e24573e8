//go:build unix

package runner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup places the child in its own process group so signals
// reach anything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

type groupProcess struct {
	p *os.Process
}

func newProcess(p *os.Process) groupProcess {
	return groupProcess{p: p}
}

func (g groupProcess) Terminate() error { return g.signal(syscall.SIGTERM) }
func (g groupProcess) Kill() error      { return g.signal(syscall.SIGKILL) }

func (g groupProcess) signal(sig syscall.Signal) error {
	// A negative pid addresses the whole group.
	err := syscall.Kill(-g.p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func signalGroup(p *os.Process, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return p.Signal(sig)
	}
	return groupProcess{p: p}.signal(s)
}
