package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/TheSmartAz/zaoya/pkg/models"
)

// CheckCommand describes one deterministic check: a name plus the command
// line to run inside the project root.
type CheckCommand struct {
	Name string
	Argv []string
}

// DefaultCheckCommands is the standard typecheck/lint/unit suite for
// generated sites. Hosts without the toolchain report each check skipped.
func DefaultCheckCommands() []CheckCommand {
	return []CheckCommand{
		{Name: "typecheck", Argv: []string{"tsc", "--noEmit"}},
		{Name: "lint", Argv: []string{"eslint", "."}},
		{Name: "unit", Argv: []string{"vitest", "run"}},
	}
}

// CheckTools runs the deterministic check suite against a project root.
type CheckTools struct {
	dir      string
	commands []CheckCommand
}

// NewCheckTools creates a check runner for the given project root. A nil
// commands slice selects the default suite.
func NewCheckTools(dir string, commands []CheckCommand) *CheckTools {
	if commands == nil {
		commands = DefaultCheckCommands()
	}
	return &CheckTools{dir: dir, commands: commands}
}

// All runs every configured check and aggregates the results. A check whose
// command is missing from the host reports skipped=true and still counts as
// ok; the report is only not-ok when a present command fails.
func (c *CheckTools) All(ctx context.Context) models.CheckReport {
	report := models.CheckReport{OK: true}
	for _, cmd := range c.commands {
		res := c.run(ctx, cmd)
		if !res.OK {
			report.OK = false
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func (c *CheckTools) run(ctx context.Context, cmd CheckCommand) models.CheckResult {
	if _, err := exec.LookPath(cmd.Argv[0]); err != nil {
		slog.Debug("Check command not found, skipping", "check", cmd.Name, "command", cmd.Argv[0])
		return models.CheckResult{
			Name:    cmd.Name,
			OK:      true,
			Skipped: true,
			Output:  fmt.Sprintf("%s not found in host environment", cmd.Argv[0]),
		}
	}

	ex := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	ex.Dir = c.dir
	out, err := ex.CombinedOutput()
	res := models.CheckResult{
		Name:   cmd.Name,
		OK:     err == nil,
		Output: strings.TrimSpace(string(out)),
	}
	if err != nil && res.Output == "" {
		res.Output = err.Error()
	}
	return res
}
