package instance

import (
	"errors"
	"os"
	"testing"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"
)

// fakeProcess implements ps.Process.
type fakeProcess struct {
	// pid is the process id.
	pid int
	// executable is the binary name.
	executable string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return 1 }
func (p fakeProcess) Executable() string { return p.executable }

func lister(processes ...ps.Process) Lister {
	return func() ([]ps.Process, error) {
		return processes, nil
	}
}

// commandLines serves argv by pid; unknown pids fail like an exited process.
func commandLines(lines map[int][]string) Args {
	return func(pid int) ([]string, error) {
		argv, ok := lines[pid]
		if !ok {
			return nil, os.ErrNotExist
		}

		return argv, nil
	}
}

var subcommands = []string{"status", "arm", "disarm", "challenge", "deactivate", "version", "help"}

func TestCheck(t *testing.T) {
	t.Parallel()

	self := fakeProcess{pid: 10, executable: "mqtt-alarm"}
	noArgs := commandLines(nil)

	require.NoError(t, Check(lister(self, fakeProcess{pid: 11, executable: "bash"}), noArgs, "mqtt-alarm", 10, subcommands))

	err := Check(lister(self, fakeProcess{pid: 12, executable: "mqtt-alarm"}), noArgs, "mqtt-alarm", 10, subcommands)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.ErrorContains(t, err, "pid 12")

	errList := errors.New("no procfs")
	err = Check(func() ([]ps.Process, error) { return nil, errList }, noArgs, "mqtt-alarm", 10, subcommands)
	require.ErrorIs(t, err, errList)
}

// TestCheck_IgnoresOperatorCommands lets a controller start while a status
// watch runs from the same binary.
func TestCheck_IgnoresOperatorCommands(t *testing.T) {
	t.Parallel()

	processes := lister(
		fakeProcess{pid: 10, executable: "mqtt-alarm"},
		fakeProcess{pid: 20, executable: "mqtt-alarm"},
		fakeProcess{pid: 21, executable: "mqtt-alarm"},
	)

	args := commandLines(map[int][]string{
		20: {"/usr/bin/mqtt-alarm", "status", "--watch"},
		21: {"mqtt-alarm", "-c", "/etc/alarm.conf", "disarm", "1234"},
	})
	require.NoError(t, Check(processes, args, "mqtt-alarm", 10, subcommands))

	args = commandLines(map[int][]string{
		20: {"/usr/bin/mqtt-alarm", "status", "--watch"},
		21: {"mqtt-alarm", "-c", "/etc/alarm.conf", "--log-level", "debug"},
	})
	err := Check(processes, args, "mqtt-alarm", 10, subcommands)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.ErrorContains(t, err, "pid 21")
}

func TestProcArgs(t *testing.T) {
	t.Parallel()

	if _, err := os.Stat("/proc/self/cmdline"); err != nil {
		t.Skip("procfs is not available")
	}

	argv, err := ProcArgs(os.Getpid())
	require.NoError(t, err)
	require.Equal(t, os.Args, argv)
}
