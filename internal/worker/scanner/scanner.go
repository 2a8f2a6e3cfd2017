// Package scanner gates images on a trivy vulnerability scan
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/recipe-runner/internal/worker/pipeline"
)

// ErrUnparseableReport means the report holds no HIGH count; the image is not trusted
var ErrUnparseableReport = errors.New("could not read high severity count from scan report")

// highPattern matches the per-target summary line, e.g.
// "Total: 12 (UNKNOWN: 0, LOW: 4, MEDIUM: 6, HIGH: 2, CRITICAL: 0)"
var highPattern = regexp.MustCompile(`HIGH: (\d+)`)

// ParseHighCount sums the HIGH counts of every target in a table report
func ParseHighCount(report string) (int, error) {
	matches := highPattern.FindAllStringSubmatch(report, -1)
	if len(matches) == 0 {
		return 0, ErrUnparseableReport
	}

	total := 0
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnparseableReport, err)
		}
		total += n
	}
	return total, nil
}

type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Config holds the scanner invocation
type Config struct {
	Logger *slog.Logger
	// Binary defaults to trivy
	Binary string
	// Args go between "image" and the image reference
	Args    []string
	Timeout time.Duration
}

// Scanner implements pipeline.Scanner
type Scanner struct {
	logger  *slog.Logger
	binary  string
	args    []string
	timeout time.Duration
	run     runFunc
}

// New creates a scanner running the trivy CLI
func New(cfg *Config) *Scanner {
	binary := cfg.Binary
	if binary == "" {
		binary = "trivy"
	}
	return &Scanner{
		logger:  cfg.Logger,
		binary:  binary,
		args:    cfg.Args,
		timeout: cfg.Timeout,
		run:     execRun,
	}
}

func (s *Scanner) command(image string) []string {
	args := make([]string, 0, len(s.args)+2)
	args = append(args, "image")
	args = append(args, s.args...)
	return append(args, image)
}

// Scan runs the scanner and parses its report
func (s *Scanner) Scan(ctx context.Context, image string) (*pipeline.ScanReport, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	stdout, stderr, err := s.run(ctx, s.binary, s.command(image)...)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			return nil, fmt.Errorf("vulnerability scanner failed: %w", err)
		}
		return nil, fmt.Errorf("vulnerability scanner failed: %w: %s", err, msg)
	}

	high, err := ParseHighCount(string(stdout))
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Image scanned",
		slog.String("image", image),
		slog.Int("high", high),
		slog.Duration("duration", time.Since(start)),
	)
	return &pipeline.ScanReport{High: high}, nil
}
