package platform

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/zenreply/zenreply/internal/capture"
)

var ErrNoKeystrokeTool = errors.New("no keystroke tool available")

const keystrokeTimeout = 2 * time.Second

// Command is one way of sending the copy shortcut.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// CopyCommands returns the candidate commands for goos, in preference order.
func CopyCommands(goos string, mod capture.Modifier) []Command {
	switch goos {
	case "darwin":
		using := "control down"
		if mod == capture.ModifierCommand {
			using = "command down"
		}
		return []Command{{
			Name: "osascript",
			Args: []string{"-e", fmt.Sprintf(`tell application "System Events" to keystroke "c" using {%s}`, using)},
		}}
	case "windows":
		return []Command{{
			Name: "powershell",
			Args: []string{"-NoProfile", "-NonInteractive", "-Command",
				`Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.SendKeys]::SendWait('^c')`},
		}}
	default:
		xdo := "ctrl+c"
		wtype := []string{"-M", "ctrl", "c", "-m", "ctrl"}
		if mod == capture.ModifierCommand {
			xdo = "super+c"
			wtype = []string{"-M", "logo", "c", "-m", "logo"}
		}
		return []Command{
			{Name: "xdotool", Args: []string{"key", "--clearmodifiers", xdo}},
			{Name: "wtype", Args: wtype},
		}
	}
}

// ExecKeystroker sends the copy shortcut by running the platform's
// automation tool.
type ExecKeystroker struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func NewExecKeystroker() *ExecKeystroker {
	return &ExecKeystroker{
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) error {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}
}

// InjectCopy runs the first available tool for this platform.
func (k *ExecKeystroker) InjectCopy(mod capture.Modifier) error {
	ctx, cancel := context.WithTimeout(context.Background(), keystrokeTimeout)
	defer cancel()

	var errs []error
	for _, cmd := range CopyCommands(k.goos, mod) {
		path, err := k.lookPath(cmd.Name)
		if err != nil {
			continue
		}
		if err := k.run(ctx, path, cmd.Args...); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w on %s", ErrNoKeystrokeTool, k.goos)
	}
	return errors.Join(errs...)
}
