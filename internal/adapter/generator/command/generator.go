package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/altq/internal/domain"
	"github.com/bnema/altq/internal/port"
)

// Exit codes from sysexits.h that the command uses to classify failures.
const (
	ExitDataErr  = 65
	ExitTempFail = 75
)

// waitDelay bounds how long a cancelled command may keep its output pipes open.
const waitDelay = 2 * time.Second

var (
	ErrEmptyCommand   = errors.New("empty generator command")
	ErrInvalidCommand = errors.New("generator command contains null byte")
)

// Generator runs an external program as
// `<command> [args...] <entity-id> <source> <retry-count>` and uses its
// trimmed stdout as the generated text.
type Generator struct {
	path string
	args []string
}

func New(commandLine string) (*Generator, error) {
	if err := validateCommand(commandLine); err != nil {
		return nil, err
	}
	fields := strings.Fields(commandLine)
	return &Generator{path: fields[0], args: fields[1:]}, nil
}

func validateCommand(commandLine string) error {
	if strings.TrimSpace(commandLine) == "" {
		return ErrEmptyCommand
	}
	if strings.ContainsRune(commandLine, 0) {
		return ErrInvalidCommand
	}
	return nil
}

func (g *Generator) Generate(ctx context.Context, entityID int64, source string, retryCount int) (string, error) {
	args := append(append([]string{}, g.args...),
		strconv.FormatInt(entityID, 10),
		source,
		strconv.Itoa(retryCount),
	)
	cmd := exec.CommandContext(ctx, g.path, args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("run %s: %w", g.path, ctxErr)
		}
		return "", classify(err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", domain.NewGenerateError(domain.KindOther, "generator produced no output")
	}
	return out, nil
}

func classify(err error, stderr string) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return &domain.GenerateError{Kind: domain.KindOther, Err: err}
	}

	kind := domain.KindOther
	switch exitErr.ExitCode() {
	case ExitTempFail:
		kind = domain.KindRateLimited
	case ExitDataErr:
		kind = domain.KindNotEligible
	}

	msg := stderr
	if msg == "" {
		msg = fmt.Sprintf("generator exited with status %d", exitErr.ExitCode())
	}
	return &domain.GenerateError{Kind: kind, Message: msg, Err: err}
}

var _ port.Generator = (*Generator)(nil)
