package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/KartoffelChipss/pelagica/playerd/internal/continuewatch"
	"github.com/KartoffelChipss/pelagica/playerd/internal/trackpref"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

func newContinueWatchingCmd(root *rootOptions) *cobra.Command {
	var (
		limit    int
		accurate bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "continue-watching",
		Short: "Print the reconciled continue-watching list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := root.loadConfig()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("limit") {
				limit = cfg.ContinueWatching.Limit
			}
			if !cmd.Flags().Changed("accurate") {
				accurate = cfg.ContinueWatching.AccurateSorting
			}

			rec := continuewatch.New(svc.client, cfg.ContinueWatching.Concurrency)
			entries, err := rec.Reconcile(cmd.Context(), cfg.Server.UserID, limit, accurate)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of items (default from config)")
	cmd.Flags().BoolVar(&accurate, "accurate", true, "infer timestamps from previous episodes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printEntries(w io.Writer, entries []continuewatch.Entry) {
	for _, e := range entries {
		when := "-"
		if !e.EffectiveTimestamp.IsZero() {
			when = e.EffectiveTimestamp.Local().Format(time.DateTime)
			if e.Inferred {
				when += " (inferred)"
			}
		}
		fmt.Fprintf(w, "%-36s  %-28s  %s\n", e.Item.ID, when, displayName(e.Item))
	}
}

func displayName(it types.Item) string {
	if it.Type == types.ItemEpisode && it.SeriesName != "" {
		return fmt.Sprintf("%s E%d %s", it.SeriesName, it.IndexNumber, it.Name)
	}
	return it.Name
}

func newResolveTracksCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-tracks <itemID>",
		Short: "Show which audio and subtitle streams an item would start with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := root.loadConfig()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}

			tracks := trackpref.NewService(svc.client, cfg.Server.UserID, svc.prefs, trackpref.Preferences{
				AudioLanguage:    cfg.Preferences.AudioLanguage,
				SubtitleLanguage: cfg.Preferences.SubtitleLanguage,
			})
			item, pref, err := tracks.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				Item   string                    `json:"item"`
				Name   string                    `json:"name"`
				Tracks trackpref.TrackPreference `json:"tracks"`
			}{item.ID, displayName(item), pref})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
