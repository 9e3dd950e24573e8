package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_CopiesArgs(t *testing.T) {
	args := []string{"-c", "echo hi"}
	s := New("sh", args...)
	args[0] = "-x"
	assert.Equal(t, []string{"-c", "echo hi"}, s.Args)
}

func TestFromArgv(t *testing.T) {
	assert.Equal(t, Spec{}, FromArgv(nil))
	s := FromArgv([]string{"ls", "-l"})
	assert.Equal(t, "ls", s.Program)
	assert.Equal(t, []string{"-l"}, s.Args)
	assert.Equal(t, "ls -l", s.String())
}

func TestWithTimeout_DoesNotAlias(t *testing.T) {
	s := New("sleep", "1")
	s2 := s.WithTimeout(time.Second)
	s2.Args[0] = "2"

	assert.Equal(t, "1", s.Args[0])
	assert.Zero(t, s.Timeout)
	assert.Equal(t, time.Second, s2.Timeout)
}
