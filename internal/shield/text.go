package shield

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// Default framing of the verifier's shield export: a rule line, the shield
// expression and a column header before the records, a skipped-states note
// and a rule line after them.
const (
	DefaultHeaderLines = 3
	DefaultFooterLines = 2
)

var (
	// `0.9: (2 {Agent_move_North, AgentIsOnSlippery})`
	weightedChoiceRe = regexp.MustCompile(`(-?[0-9][0-9.eE+-]*)\s*:\s*\(\s*[^{}()]*\{([^{}]*)\}\s*\)`)
	// `{move}` or `{Agent_turn_left}`
	bareChoiceRe = regexp.MustCompile(`\{([^{}]*)\}`)
)

// #region text
// Text is the flat-text shield export, one decision point per line:
// `[<valuation>] <actions>`, optionally prefixed by `<state id>:`.
type Text struct {
	Name        string
	Data        []byte
	HeaderLines int
	FooterLines int
}

// NewText wraps export data with the default framing.
func NewText(name string, data []byte) *Text {
	return &Text{
		Name:        name,
		Data:        data,
		HeaderLines: DefaultHeaderLines,
		FooterLines: DefaultFooterLines,
	}
}

// LoadText reads a shield export file.
func LoadText(path string, header, footer int) (*Text, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shield file %s: %w", path, err)
	}
	return &Text{Name: filepath.Base(path), Data: data, HeaderLines: header, FooterLines: footer}, nil
}

// Records parses the lines between header and footer. Blank lines are skipped;
// lines that cannot be split into valuation and actions are malformed records.
func (t *Text) Records(ctx context.Context) ([]RawRecord, error) {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(t.Data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.Name, err)
	}

	start := max(t.HeaderLines, 0)
	end := len(lines) - max(t.FooterLines, 0)
	if start >= end {
		return nil, nil
	}

	out := make([]RawRecord, 0, end-start)
	for i := start; i < end; i++ {
		if (i-start)%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		rec := parseLine(line)
		rec.Source = fmt.Sprintf("%s:%d", t.Name, i+1)
		out = append(out, rec)
	}
	return out, nil
}

// #endregion text

// #region line-parser
func parseLine(line string) RawRecord {
	open := strings.IndexByte(line, '[')
	end := strings.IndexByte(line, ']')
	if open < 0 || end < open {
		return RawRecord{Err: &statekey.ParseError{Reason: "missing [valuation]"}}
	}
	rec := RawRecord{Valuation: line[open : end+1]}
	rest := line[end+1:]

	if weighted := weightedChoiceRe.FindAllStringSubmatch(rest, -1); len(weighted) > 0 {
		for _, m := range weighted {
			w, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return RawRecord{Err: &statekey.ParseError{Reason: fmt.Sprintf("bad choice weight %q", m[1])}}
			}
			rec.Choices = append(rec.Choices, RawChoice{Weight: w, Labels: splitLabels(m[2])})
		}
		return rec
	}
	for _, m := range bareChoiceRe.FindAllStringSubmatch(rest, -1) {
		rec.Choices = append(rec.Choices, RawChoice{Weight: 1, Labels: splitLabels(m[1])})
	}
	// Only an empty action part or "undefined." records a state with no choices.
	if len(rec.Choices) == 0 {
		if trimmed := strings.TrimSpace(rest); trimmed != "" && trimmed != "undefined." {
			return RawRecord{Err: &statekey.ParseError{Reason: "no action choices"}}
		}
	}
	return rec
}

func splitLabels(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// #endregion line-parser
