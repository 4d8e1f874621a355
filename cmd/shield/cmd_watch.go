package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/lifecycle"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/mask"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
	"github.com/danielpatrickdp/grid-shield/go-controller/internal/statekey"
)

var watchShield string

// watchCmd serves masks from a shield export that is reloaded on change.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Serve masks from a hot-reloaded shield export",
	Long: `Watches a shield text export and reloads it whenever it is rewritten. A
failed reload keeps the previous shield. Snapshot JSON objects are read from
stdin, one per line, and answered with one mask per line on stdout.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchShield, "shield", "s", "", "shield text export to watch")
	_ = watchCmd.MarkFlagRequired("shield")
}

func runWatch(cmd *cobra.Command, args []string) error {
	shieldOpts, err := cfg.ShieldOptions(logger)
	if err != nil {
		return err
	}
	maskOpts, err := cfg.MaskOptions(logger)
	if err != nil {
		return err
	}

	ctrl := lifecycle.New(lifecycle.Options{
		Spec:   cfg.Verifier.Safety,
		Shield: shieldOpts,
		Logger: logger,
	})
	defer ctrl.Close()

	w, err := lifecycle.NewWatcher(ctrl, watchShield, lifecycle.WatchOptions{
		HeaderLines: cfg.Shield.HeaderLines,
		FooterLines: cfg.Shield.FooterLines,
		Debounce:    cfg.Debounce(),
		Logger:      logger,
		OnReload: func(r shield.Report, err error) {
			if err == nil {
				logger.Debug("reload report", zap.Int("filtered", r.Filtered), zap.Int("dropped", r.Dropped))
			}
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := mask.NewServer(ctrl, maskOpts)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error {
		defer stop()
		return serveQueries(ctx, srv, cmd.InOrStdin(), cmd.OutOrStdout())
	})
	return g.Wait()
}

// serveQueries answers one snapshot per input line until EOF or ctx is done.
// Malformed lines are reported on the output stream and skipped.
func serveQueries(ctx context.Context, srv *mask.Server, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read queries: %w", err)
					}
				default:
				}
				return nil
			}
			if line == "" {
				continue
			}
			var snap statekey.Snapshot
			if err := json.Unmarshal([]byte(line), &snap); err != nil {
				if err := enc.Encode(decisionJSON{Source: "invalid", Error: err.Error()}); err != nil {
					return err
				}
				continue
			}
			if err := enc.Encode(toDecisionJSON(srv.Explain(snap))); err != nil {
				return err
			}
		}
	}
}
