// Package continuewatch merges the resume and next-up feeds into one
// ranked list of things to watch next.
package continuewatch

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

// neighborWindow is the number of episodes fetched around an episode.
const neighborWindow = 3

// Catalog is the slice of the media server the reconciler reads.
type Catalog interface {
	ResumeItems(ctx context.Context, userID string, limit int) ([]types.Item, error)
	NextUp(ctx context.Context, userID string, limit int) ([]types.Item, error)
	EpisodeNeighbors(ctx context.Context, userID, seriesID, episodeID string, window int) ([]types.Item, error)
}

// Entry is a ranked item and the timestamp it was ranked by.
type Entry struct {
	Item types.Item
	// EffectiveTimestamp is the last-played time, one inferred from the
	// previous episode, or the creation time, in that order. Zero if none.
	EffectiveTimestamp time.Time
	Inferred           bool
}

// Reconciler builds the continue-watching list.
type Reconciler struct {
	catalog     Catalog
	concurrency int
	logger      zerolog.Logger
}

// New returns a Reconciler. concurrency bounds parallel neighbour lookups; 0 means unbounded.
func New(catalog Catalog, concurrency int) *Reconciler {
	return &Reconciler{
		catalog:     catalog,
		concurrency: concurrency,
		logger:      log.WithComponent("continuewatch"),
	}
}

// Reconcile returns at most limit entries, most recent first, without
// duplicate ids. Either feed failing fails the call; a failed neighbour
// lookup only costs that item its inferred timestamp.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, limit int, accurateSorting bool) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var resume, nextUp []types.Item
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := r.catalog.ResumeItems(gctx, userID, limit*2)
		if err != nil {
			return fmt.Errorf("resume items: %w", err)
		}
		resume = items
		return nil
	})
	g.Go(func() error {
		items, err := r.catalog.NextUp(gctx, userID, limit)
		if err != nil {
			return fmt.Errorf("next up: %w", err)
		}
		nextUp = items
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(resume)+len(nextUp))
	for _, it := range resume {
		entries = append(entries, Entry{Item: it})
	}
	for _, it := range nextUp {
		entries = append(entries, Entry{Item: it})
	}

	if accurateSorting {
		r.inferFromNeighbors(ctx, userID, entries)
	}

	for i := range entries {
		e := &entries[i]
		if e.Inferred {
			continue
		}
		if t, ok := e.Item.LastPlayed(); ok {
			e.EffectiveTimestamp = t
		} else if e.Item.DateCreated != nil {
			e.EffectiveTimestamp = *e.Item.DateCreated
		}
	}

	return Rank(entries, limit), nil
}

func needsNeighbor(it types.Item) bool {
	_, played := it.LastPlayed()
	return it.Type == types.ItemEpisode && !played && it.SeriesID != "" && it.IndexNumber != 0
}

// inferFromNeighbors gives unplayed episodes the last-played time of the
// episode right before them. Results are written to distinct indices only.
func (r *Reconciler) inferFromNeighbors(ctx context.Context, userID string, entries []Entry) {
	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}

	for i := range entries {
		it := entries[i].Item
		if !needsNeighbor(it) {
			continue
		}
		g.Go(func() error {
			neighbors, err := r.catalog.EpisodeNeighbors(ctx, userID, it.SeriesID, it.ID, neighborWindow)
			if err != nil {
				r.logger.Debug().Err(err).Str("item_id", it.ID).Msg("neighbour lookup failed")
				return nil
			}
			idx := slices.IndexFunc(neighbors, func(n types.Item) bool { return n.ID == it.ID })
			if idx <= 0 {
				return nil
			}
			if t, ok := neighbors[idx-1].LastPlayed(); ok {
				entries[i].EffectiveTimestamp = t
				entries[i].Inferred = true
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Rank stable-sorts entries newest first, drops repeated ids keeping the
// first, and truncates to limit.
func Rank(entries []Entry, limit int) []Entry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		return b.EffectiveTimestamp.Compare(a.EffectiveTimestamp)
	})

	seen := make(map[string]struct{}, len(sorted))
	out := make([]Entry, 0, min(limit, len(sorted)))
	for _, e := range sorted {
		if e.Item.ID == "" {
			continue
		}
		if _, dup := seen[e.Item.ID]; dup {
			continue
		}
		seen[e.Item.ID] = struct{}{}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}
