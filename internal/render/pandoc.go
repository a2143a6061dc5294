package render

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

// DefaultPandocTimeout bounds one pandoc invocation.
const DefaultPandocTimeout = 10 * time.Second

// Pandoc converts markdown with an external pandoc binary. Calls go through
// a circuit breaker so a broken installation fails fast.
type Pandoc struct {
	path    string
	timeout time.Duration
	breaker *ngerrors.CircuitBreaker

	// For testing
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
	lookPath    func(file string) (string, error)
}

// NewPandoc creates a pandoc renderer. An empty path means "pandoc" on PATH.
func NewPandoc(path string, timeout time.Duration) *Pandoc {
	if path == "" {
		path = "pandoc"
	}
	if timeout <= 0 {
		timeout = DefaultPandocTimeout
	}
	return &Pandoc{
		path:        path,
		timeout:     timeout,
		breaker:     ngerrors.NewCircuitBreaker("pandoc", ngerrors.WithMaxFailures(3)),
		execCommand: exec.CommandContext,
		lookPath:    exec.LookPath,
	}
}

// Available reports whether the pandoc binary can be found.
func (p *Pandoc) Available() bool {
	_, err := p.lookPath(p.path)
	return err == nil
}

// Breaker exposes the circuit breaker state for diagnostics.
func (p *Pandoc) Breaker() *ngerrors.CircuitBreaker {
	return p.breaker
}

// Render implements Renderer. Input is always read as markdown.
func (p *Pandoc) Render(ctx context.Context, content, format string) (string, error) {
	if err := ValidateFormat(format); err != nil {
		return "", err
	}

	out, err := ngerrors.Do(p.breaker, func() (string, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		cmd := p.execCommand(ctx, p.path, "--from", "markdown", "--to", format)
		cmd.Stdin = strings.NewReader(content)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		start := time.Now()
		if err := cmd.Run(); err != nil {
			slog.Warn("pandoc_failed",
				slog.String("format", format),
				slog.String("stderr", strings.TrimSpace(stderr.String())),
				slog.String("error", err.Error()))
			return "", err
		}
		slog.Debug("pandoc_rendered",
			slog.String("format", format),
			slog.Int("bytes", stdout.Len()),
			slog.Duration("elapsed", time.Since(start)))
		return stdout.String(), nil
	})
	if err != nil {
		if err == ngerrors.ErrCircuitOpen {
			return "", ngerrors.New(ngerrors.ErrCodeRenderFailed, "pandoc disabled after repeated failures", err).
				WithSuggestion("Check the pandoc installation, then retry later")
		}
		return "", ngerrors.New(ngerrors.ErrCodeRenderFailed, "pandoc conversion failed", err).
			WithDetail("format", format)
	}
	return out, nil
}
