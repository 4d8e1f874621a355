package verifier

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
)

// ShieldFileName is the export file a checker command writes next to the model.
const ShieldFileName = "shield.txt"

// #region command-checker
// CommandChecker runs an external model checking command that writes the
// flat-text shield export. Arguments may contain the placeholders {model},
// {formula}, {output}, {value} and {comparison}.
type CommandChecker struct {
	Command     []string
	HeaderLines int
	FooterLines int
	Logger      *zap.Logger
}

// Check runs the command and loads the export it produced.
func (c *CommandChecker) Check(ctx context.Context, modelFile string, spec SafetySpec) (shield.Artifact, error) {
	if len(c.Command) == 0 {
		return nil, &ExternalToolError{Tool: "checker", ExitCode: -1, Err: errors.New("no command configured")}
	}
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	output := filepath.Join(filepath.Dir(modelFile), ShieldFileName)
	r := strings.NewReplacer(
		"{model}", modelFile,
		"{formula}", spec.Formula,
		"{output}", output,
		"{value}", strconv.FormatFloat(spec.Value, 'g', -1, 64),
		"{comparison}", spec.Comparison,
	)
	args := make([]string, len(c.Command))
	for i, a := range c.Command {
		args[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.Debug("running checker", zap.Strings("argv", args))
	if err := runTool(cmd, args[0], &stderr); err != nil {
		return nil, err
	}

	text, err := shield.LoadText(output, c.HeaderLines, c.FooterLines)
	if err != nil {
		return nil, &ExternalToolError{Tool: args[0], Stderr: stderr.String(), Err: err}
	}
	return text, nil
}

// #endregion command-checker
