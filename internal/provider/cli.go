package provider

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CLIProvider shells out to a local binary that reads a prompt argument and
// prints the completion on stdout.
type CLIProvider struct {
	binaryPath string
	args       []string
	timeout    time.Duration
}

func NewCLIProvider(binaryPath string, args []string) (*CLIProvider, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("binary path is required for CLI provider")
	}
	return &CLIProvider{
		binaryPath: binaryPath,
		args:       args,
		timeout:    2 * time.Minute,
	}, nil
}

func (p *CLIProvider) Name() string {
	return "cli-" + p.binaryPath
}

// Chat flattens the transcript into a single prompt. Sampling parameters are
// not forwarded.
func (p *CLIProvider) Chat(ctx context.Context, messages []Message, _ Params) (*Response, error) {
	var prompt strings.Builder
	for i, m := range messages {
		if i > 0 {
			prompt.WriteString("\n\n")
		}
		fmt.Fprintf(&prompt, "%s: %s", m.Role, m.Content)
	}

	fullArgs := append(append([]string{}, p.args...), prompt.String())

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, p.binaryPath, fullArgs...)
	output, err := cmd.Output()
	result := strings.TrimSpace(string(output))

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, fail(p.Name(), "chat", fmt.Errorf("timed out: %w", err))
		}
		return nil, fail(p.Name(), "chat", err)
	}

	return &Response{
		Content: result,
		Model:   p.binaryPath,
		Usage: Usage{
			CompletionTokens: len(strings.Fields(result)),
			TotalTokens:      len(strings.Fields(result)),
		},
	}, nil
}
