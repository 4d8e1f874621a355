package verifier

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// MetadataSeparator divides the grid text from the parameter block.
const MetadataSeparator = "---"

// #region export
// RenderWorld returns the model generator input for a snapshot: the grid
// layout, then a separator line and one sorted key=value line per parameter.
func RenderWorld(s statekey.Snapshot) (string, error) {
	layout := strings.TrimRight(s.Layout, "\n")
	if strings.TrimSpace(layout) == "" {
		return "", errors.New("export world: snapshot has no layout")
	}
	var b strings.Builder
	b.WriteString(layout)
	b.WriteString("\n")
	if len(s.Params) == 0 {
		return b.String(), nil
	}

	names := make([]string, 0, len(s.Params))
	for k := range s.Params {
		if k == "" || strings.ContainsAny(k, "=\n") {
			return "", fmt.Errorf("export world: invalid parameter name %q", k)
		}
		names = append(names, k)
	}
	sort.Strings(names)
	b.WriteString(MetadataSeparator + "\n")
	for _, k := range names {
		v := s.Params[k]
		if strings.Contains(v, "\n") {
			return "", fmt.Errorf("export world: parameter %s has a multi-line value", k)
		}
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	return b.String(), nil
}

// ExportWorld writes the rendered world to path.
func ExportWorld(s statekey.Snapshot, path string) error {
	text, err := RenderWorld(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("export world: %w", err)
	}
	return nil
}

// #endregion export
