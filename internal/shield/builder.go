package shield

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/action"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

// #region options
// Options configure the canonical table construction.
type Options struct {
	Order       statekey.FieldOrder
	Filter      statekey.Filter
	Vocabulary  *action.Vocabulary
	Spec        string
	Fingerprint string
	Parallelism int // decode workers, 0 = GOMAXPROCS
	Logger      *zap.Logger
}

// DefaultOptions returns options with the generator's default naming.
func DefaultOptions(order statekey.FieldOrder) Options {
	return Options{
		Order:      order,
		Filter:     statekey.DefaultFilter(),
		Vocabulary: action.DefaultVocabulary(),
	}
}

// #endregion options

// #region build
type decoded struct {
	key      statekey.Key
	actions  []PermittedAction
	filtered bool
	dropErr  error
	fatal    error
}

// Build turns verifier output into a Table. Both ingestion adapters end here,
// so equivalent artifacts produce identical tables.
//
// Bookkeeping states are filtered, malformed records are dropped and counted,
// repeated keys keep the first record with a warning. Label contract
// violations abort the build, as does a build with no surviving record.
func Build(ctx context.Context, art Artifact, opts Options) (*Table, Report, error) {
	var report Report
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	vocab := opts.Vocabulary
	if vocab == nil {
		vocab = action.DefaultVocabulary()
	}
	if err := opts.Order.Validate(); err != nil {
		return nil, report, err
	}

	records, err := art.Records(ctx)
	if err != nil {
		return nil, report, fmt.Errorf("read artifact: %w", err)
	}
	report.Records = len(records)

	results, err := decodeAll(ctx, records, opts, vocab)
	if err != nil {
		return nil, report, err
	}

	entries := make([]Entry, 0, len(results))
	firstSeen := make(map[statekey.Key]string, len(results))
	for i, res := range results {
		src := records[i].Source
		switch {
		case res.fatal != nil:
			return nil, report, &RecordError{Source: src, Err: res.fatal}
		case res.filtered:
			report.Filtered++
		case res.dropErr != nil:
			report.Dropped++
			if len(report.DropErrors) < maxDropSamples {
				report.DropErrors = append(report.DropErrors, fmt.Sprintf("%s: %v", src, res.dropErr))
			}
		default:
			if prev, dup := firstSeen[res.key]; dup {
				report.Duplicates++
				msg := fmt.Sprintf("duplicate state %s at %s, keeping record from %s", res.key, src, prev)
				report.Warnings = append(report.Warnings, msg)
				log.Warn("duplicate shield state", zap.String("source", src), zap.String("kept", prev))
				continue
			}
			firstSeen[res.key] = src
			entries = append(entries, Entry{Key: res.key, Actions: res.actions})
		}
	}
	report.Accepted = len(entries)

	if report.Dropped > 0 {
		log.Warn("dropped malformed shield records", zap.Int("dropped", report.Dropped), zap.Int("records", report.Records))
	}
	if len(entries) == 0 {
		return nil, report, fmt.Errorf("%w: %d records, %d filtered, %d dropped",
			ErrEmptyShield, report.Records, report.Filtered, report.Dropped)
	}

	table, err := NewTable(Meta{
		Fingerprint: opts.Fingerprint,
		Spec:        opts.Spec,
		Order:       opts.Order,
	}, entries)
	if err != nil {
		return nil, report, fmt.Errorf("assemble table: %w", err)
	}
	log.Info("shield table built",
		zap.String("id", table.ID()),
		zap.Int("states", report.Accepted),
		zap.Int("filtered", report.Filtered),
		zap.Int("dropped", report.Dropped),
		zap.Int("duplicates", report.Duplicates))
	return table, report, nil
}

// decodeAll decodes records concurrently into index-aligned slots so the merge
// stays in record order.
func decodeAll(ctx context.Context, records []RawRecord, opts Options, vocab *action.Vocabulary) ([]decoded, error) {
	results := make([]decoded, len(records))
	workers := opts.Parallelism
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (len(records) + workers - 1) / workers
	if chunk < 256 {
		chunk = 256
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(records); start += chunk {
		end := min(start+chunk, len(records))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				results[i] = decodeRecord(records[i], opts, vocab)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return results, nil
}

func decodeRecord(rec RawRecord, opts Options, vocab *action.Vocabulary) decoded {
	if rec.Err != nil {
		return decoded{dropErr: rec.Err}
	}
	key, err := statekey.Decode(rec.Valuation, opts.Order, opts.Filter)
	if err != nil {
		if errors.Is(err, statekey.ErrBookkeeping) {
			return decoded{filtered: true}
		}
		return decoded{dropErr: err}
	}

	var byAction [action.Count]*PermittedAction
	for _, c := range rec.Choices {
		if !(c.Weight >= 0 && c.Weight <= 1) {
			return decoded{dropErr: fmt.Errorf("%w: weight %v outside [0,1]", statekey.ErrParse, c.Weight)}
		}
		a, err := vocab.Resolve(c.Labels)
		if err != nil {
			return decoded{fatal: err}
		}
		label := strings.Join(c.Labels, ",")
		if cur := byAction[a]; cur != nil {
			if c.Weight > cur.Weight {
				cur.Weight = c.Weight
			}
			cur.Label += ";" + label
			continue
		}
		byAction[a] = &PermittedAction{Action: a, Weight: c.Weight, Label: label}
	}

	actions := make([]PermittedAction, 0, len(rec.Choices))
	for _, pa := range byAction {
		if pa != nil {
			actions = append(actions, *pa)
		}
	}
	return decoded{key: key, actions: actions}
}

// #endregion build
