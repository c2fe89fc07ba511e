package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/internal/validation"
	"github.com/kettlefi/kettle/pkg/types"
)

type verdictRow struct {
	Type   string            `json:"type"`
	Hash   common.Hash       `json:"hash"`
	Valid  bool              `json:"valid"`
	Reason validation.Reason `json:"reason,omitempty"`
}

// NewValidateCmd creates the batch validation command
func NewValidateCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "validate <offers.json>",
		Short: "Check whether offers can still be taken",
		Long: `Validate every offer in the file against live chain state in one multicall
round trip. Entries may carry the lien that holds their collateral. With
--interval the check repeats until interrupted, and edits to the file are
picked up as soon as they are saved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runValidate(ctx, cmd.OutOrStdout(), args[0], interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Repeat the check at this interval")
	return cmd
}

// offerSet is one load of an offer file
type offerSet struct {
	decoded []decodedOffer
	offers  []types.OfferWithHash
	liens   types.LienSet
}

func loadOfferSet(path string, v *validation.Validator) (*offerSet, error) {
	entries, err := readOfferFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeEntries(entries, v.Hasher())
	if err != nil {
		return nil, err
	}

	set := &offerSet{decoded: decoded, offers: make([]types.OfferWithHash, len(decoded))}
	var liens []*types.Lien
	for i, d := range decoded {
		set.offers[i] = types.OfferWithHash{Offer: d.offer, Hash: d.hash}
		if d.entry.Lien != nil {
			liens = append(liens, d.entry.Lien)
		}
	}
	set.liens = types.NewLienSet(liens...)
	return set, nil
}

func runValidate(ctx context.Context, w io.Writer, path string, interval time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := readOfferFile(path); err != nil {
		return err
	}

	e, err := openEnv(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer e.Close()

	v, err := e.validator()
	if err != nil {
		return err
	}
	set, err := loadOfferSet(path, v)
	if err != nil {
		return err
	}

	var changed <-chan struct{}
	if interval > 0 {
		changed, err = watchOfferFile(ctx, path)
		if err != nil {
			// chain changes are still picked up on every tick
			logging.Warn("offer file not watched", logging.Component("cli"), logging.Err(err))
		}
	}

	for {
		verdicts, err := v.ValidateOffers(ctx, set.offers, set.liens)
		if err != nil {
			return fmt.Errorf("validate offers: %w", err)
		}
		if err := printVerdicts(w, set.decoded, verdicts); err != nil {
			return err
		}
		if interval <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			logging.Info("validation loop stopped", logging.Component("cli"))
			return nil
		case <-changed:
			next, err := loadOfferSet(path, v)
			if err != nil {
				logging.Warn("offer file reload failed, keeping previous offers", logging.Component("cli"), logging.Err(err))
				continue
			}
			logging.Info("offer file reloaded", logging.Component("cli"), "offers", len(next.offers))
			set = next
		case <-time.After(interval):
		}
	}
}

// watchOfferFile signals when path is written or replaced. The parent
// directory is watched because editors usually save by renaming.
func watchOfferFile(ctx context.Context, path string) (<-chan struct{}, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	changed := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					select {
					case changed <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Debug("offer file watch error", logging.Component("cli"), logging.Err(err))
			}
		}
	}()
	return changed, nil
}

func printVerdicts(w io.Writer, decoded []decodedOffer, verdicts map[common.Hash]validation.Verdict) error {
	rows := make([]verdictRow, len(decoded))
	invalid := 0
	for i, d := range decoded {
		vd := verdicts[d.hash]
		rows[i] = verdictRow{Type: d.entry.Type, Hash: d.hash, Valid: vd.Valid, Reason: vd.Reason}
		if !vd.Valid {
			invalid++
		}
	}

	return emit(w, rows, func(w io.Writer) {
		for _, r := range rows {
			line := fmt.Sprintf("%s  %-6s %s", r.Hash.Hex(), r.Type, StatusBadge(r.Valid))
			if r.Reason != "" {
				line += "  " + string(r.Reason)
			}
			fmt.Fprintln(w, line)
		}
		summary := fmt.Sprintf("%d offers, %d invalid", len(rows), invalid)
		if styled() {
			summary = StyleMuted.Render(summary)
		}
		fmt.Fprintln(w, summary)
	})
}
