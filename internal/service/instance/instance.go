package instance

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/mitchellh/go-ps"
)

// ErrAlreadyRunning is returned when another controller process is found.
var ErrAlreadyRunning = errors.New("another alarm controller is already running")

// Lister returns the process table.
type Lister func() ([]ps.Process, error)

// Args returns the command line of a process, program name first.
type Args func(pid int) ([]string, error)

// EnsureSingle fails when another process runs the current executable as a
// controller. Two controllers sharing a client id would keep kicking each other
// off the broker. Processes running one of subcommands (status, arm...) are
// operator invocations and do not count.
func EnsureSingle(subcommands []string) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	return Check(ps.Processes, ProcArgs, filepath.Base(executable), os.Getpid(), subcommands)
}

// Check scans the process table for another controller named name.
// A process whose command line cannot be read counts as a controller.
func Check(list Lister, args Args, name string, selfPID int, subcommands []string) error {
	processList, err := list()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processList {
		if process.Pid() == selfPID || process.Executable() != name {
			continue
		}

		if argv, err := args(process.Pid()); err == nil && runsSubcommand(argv, subcommands) {
			continue
		}

		return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, process.Pid())
	}

	return nil
}

// ProcArgs reads the command line from procfs.
func ProcArgs(pid int) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return nil, fmt.Errorf("read command line of pid %d: %w", pid, err)
	}

	raw = bytes.TrimRight(raw, "\x00")
	if len(raw) == 0 {
		return nil, fmt.Errorf("pid %d has no command line", pid)
	}

	argv := make([]string, 0, bytes.Count(raw, []byte{0})+1)
	for field := range bytes.SplitSeq(raw, []byte{0}) {
		argv = append(argv, string(field))
	}

	return argv, nil
}

// runsSubcommand reports whether any argument after the program name is one of
// subcommands. The controller itself takes no positional arguments.
func runsSubcommand(argv, subcommands []string) bool {
	if len(argv) < 2 {
		return false
	}

	return slices.ContainsFunc(argv[1:], func(arg string) bool {
		return slices.Contains(subcommands, arg)
	})
}
