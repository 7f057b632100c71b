package orchestrator

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/config"
)

const maxOutputTail = 2048

// ExecStage runs an external command, such as the LinkedIn reply scraper,
// as a stage.
type ExecStage struct {
	name    string
	args    []string
	dir     string
	timeout time.Duration
}

// NewExecStage creates a command stage. The command must have at least
// one argument.
func NewExecStage(name string, cfg config.CommandConfig) (*ExecStage, error) {
	if len(cfg.Args) == 0 {
		return nil, eris.Errorf("orchestrator: command stage %q has no args", name)
	}
	return &ExecStage{name: name, args: cfg.Args, dir: cfg.Dir, timeout: cfg.Timeout()}, nil
}

// Name implements Stage.
func (s *ExecStage) Name() string { return s.name }

// Run executes the command and fails on a non-zero exit or timeout. The
// tail of the combined output is attached to the error.
func (s *ExecStage) Run(ctx context.Context) (Metrics, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.args[0], s.args[1:]...)
	cmd.Dir = s.dir
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	m := Metrics{
		"exit_code":    cmd.ProcessState.ExitCode(),
		"output_bytes": out.Len(),
		"elapsed_ms":   time.Since(start).Milliseconds(),
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return m, eris.Errorf("orchestrator: %s timed out after %s: %s", s.name, s.timeout, tail(out.String()))
		}
		return m, eris.Wrapf(err, "orchestrator: %s: %s", s.name, tail(out.String()))
	}
	zap.L().Debug("command finished", zap.String("stage", s.name), zap.String("output", tail(out.String())))
	return m, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputTail {
		s = "..." + s[len(s)-maxOutputTail:]
	}
	return s
}
