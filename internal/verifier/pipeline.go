package verifier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// File names inside a build workspace.
const (
	GridFileName  = "grid.txt"
	ModelFileName = "grid.prism"
)

// #region pipeline
// Pipeline runs export, model generation and checking inside one workspace.
type Pipeline struct {
	Generator *Generator
	Checker   Checker
	Root      string // workspace parent, "" = system temp dir
	Retain    bool   // keep workspaces for inspection
	Logger    *zap.Logger
}

// Run produces a shield artifact for the snapshot's world. On failure the
// workspace is disposed before returning, unless retained, in which case it is
// returned alongside the error. On success the caller owns it and disposes it
// once the artifact has been consumed.
func (p *Pipeline) Run(ctx context.Context, snap statekey.Snapshot, spec SafetySpec) (shield.Artifact, *Workspace, error) {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if p.Generator == nil || p.Checker == nil {
		return nil, nil, errors.New("pipeline: generator and checker are required")
	}
	if err := spec.Validate(); err != nil {
		return nil, nil, err
	}

	ws, err := NewWorkspace(p.Root, p.Retain)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (shield.Artifact, *Workspace, error) {
		if ws.Retain {
			log.Info("keeping failed workspace", zap.String("dir", ws.Dir))
			return nil, ws, err
		}
		if derr := ws.Dispose(); derr != nil {
			log.Warn("workspace cleanup failed", zap.String("dir", ws.Dir), zap.Error(derr))
		}
		return nil, nil, err
	}

	grid := ws.Path(GridFileName)
	if err := ExportWorld(snap, grid); err != nil {
		return fail(err)
	}
	model := ws.Path(ModelFileName)
	if err := p.Generator.Generate(ctx, grid, model); err != nil {
		return fail(fmt.Errorf("generate model: %w", err))
	}
	art, err := p.Checker.Check(ctx, model, spec)
	if err != nil {
		return fail(fmt.Errorf("check model: %w", err))
	}
	log.Info("verifier produced shield", zap.String("workspace", ws.Dir), zap.String("spec", spec.Key()))
	return art, ws, nil
}

// #endregion pipeline
