package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mcc/internal/logging"
)

// DefaultToolchain is the argv prefix of the modeling toolchain CLI.
var DefaultToolchain = []string{"python3", "-m", "michelangelocc.cli"}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, dir string, argv []string) ([]byte, error)

// Command drives the toolchain through its command line.
type Command struct {
	Argv   []string
	Run    Runner
	Logger *logging.Logger
}

var (
	_ Exporter  = (*Command)(nil)
	_ Validator = (*Command)(nil)
	_ Repairer  = (*Command)(nil)
)

func NewCommand(argv []string, logger *logging.Logger) *Command {
	if len(argv) == 0 {
		argv = DefaultToolchain
	}
	return &Command{
		Argv:   append([]string(nil), argv...),
		Run:    execRunner,
		Logger: logger.WithCategory("artifact"),
	}
}

func (c *Command) Export(ctx context.Context, artifactPath string, quality Quality) ([]byte, error) {
	if quality == "" {
		quality = QualityStandard
	}
	if strings.EqualFold(filepath.Ext(artifactPath), ".stl") {
		return os.ReadFile(artifactPath)
	}
	out, err := os.CreateTemp("", "mcc-export-*.stl")
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	outPath := out.Name()
	_ = out.Close()
	defer os.Remove(outPath)

	_, err = c.invoke(ctx, artifactPath, "export", "stl", artifactPath, "-o", outPath, "--quality", string(quality), "--no-validate")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: export produced no data", ErrToolchain)
	}
	return data, nil
}

// ExportTo writes the export to outputPath.
func (c *Command) ExportTo(ctx context.Context, artifactPath, outputPath string, quality Quality) error {
	data, err := c.Export(ctx, artifactPath, quality)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func (c *Command) Validate(ctx context.Context, path string) (Report, error) {
	output, err := c.invoke(ctx, path, "validate", "mesh", path, "--json")
	// An invalid mesh exits non-zero but still prints the report.
	report, parseErr := parseReport(output)
	if parseErr == nil {
		return report, nil
	}
	if err != nil {
		return Report{}, err
	}
	return Report{}, fmt.Errorf("%w: %v", ErrToolchain, parseErr)
}

func (c *Command) Repair(ctx context.Context, path string, aggressive bool) error {
	args := []string{"repair", "auto", path, "-o", path}
	if aggressive {
		args = append(args, "--aggressive")
	}
	_, err := c.invoke(ctx, path, args...)
	return err
}

func (c *Command) invoke(ctx context.Context, path string, args ...string) ([]byte, error) {
	if c == nil || len(c.Argv) == 0 {
		return nil, fmt.Errorf("%w: toolchain not configured", ErrToolchain)
	}
	run := c.Run
	if run == nil {
		run = execRunner
	}
	argv := append(append([]string(nil), c.Argv...), args...)
	output, err := run(ctx, filepath.Dir(path), argv)
	if err != nil {
		c.Logger.Warn("toolchain command failed", map[string]string{
			"command": args[0],
			"path":    path,
			"error":   err.Error(),
		})
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return output, fmt.Errorf("%w: %s %s: %s", ErrToolchain, args[0], filepath.Base(path), lastLine(detail))
	}
	return output, nil
}

func parseReport(output []byte) (Report, error) {
	start := bytes.IndexByte(output, '{')
	if start < 0 {
		return Report{}, errors.New("no report in output")
	}
	var report Report
	if err := json.Unmarshal(output[start:], &report); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func execRunner(ctx context.Context, dir string, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
