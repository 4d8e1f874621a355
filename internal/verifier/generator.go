package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// #region generator
// Generator turns an exported grid into a verifier model by running the model
// generation binary. When PrebuiltModel is set the binary is skipped and that
// file is copied instead.
type Generator struct {
	Binary        string
	ConfigFile    string
	PrebuiltModel string
	Logger        *zap.Logger
}

// Generate writes the model for gridFile to modelFile. The binary runs once;
// a non-zero exit is an *ExternalToolError carrying its stderr.
func (g *Generator) Generate(ctx context.Context, gridFile, modelFile string) error {
	log := g.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if g.PrebuiltModel != "" {
		log.Debug("using prebuilt model", zap.String("model", g.PrebuiltModel))
		return copyFile(g.PrebuiltModel, modelFile)
	}
	if g.Binary == "" {
		return &ExternalToolError{Tool: "generator", ExitCode: -1, Err: errors.New("no binary configured")}
	}

	args := []string{"-i", gridFile, "-o", modelFile}
	if g.ConfigFile != "" {
		args = append(args, "-c", g.ConfigFile)
	}
	cmd := exec.CommandContext(ctx, g.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug("running model generator", zap.String("binary", g.Binary), zap.Strings("args", args))
	if err := runTool(cmd, g.Binary, &stderr); err != nil {
		return err
	}
	if _, err := os.Stat(modelFile); err != nil {
		return &ExternalToolError{Tool: g.Binary, Err: fmt.Errorf("no model written: %w", err), Stderr: stderr.String()}
	}
	return nil
}

// #endregion generator

// #region helpers
// runTool runs cmd and maps failures to *ExternalToolError.
func runTool(cmd *exec.Cmd, tool string, stderr *bytes.Buffer) error {
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExternalToolError{Tool: tool, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	return &ExternalToolError{Tool: tool, ExitCode: -1, Stderr: stderr.String(), Err: err}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open prebuilt model: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy prebuilt model: %w", err)
	}
	return out.Close()
}

// #endregion helpers
