// Command playerd is a headless playback daemon for a Jellyfin-compatible
// media server. It plays music through the local audio device, mirrors it
// onto the OS media session, reports playback to the server and serves the
// continue-watching list to local clients over a unix socket.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/KartoffelChipss/pelagica/playerd/internal/config"
	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
)

// Version is set at build time via ldflags
var Version = "dev"

type rootOptions struct {
	configDir string
	verbose   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "playerd",
		Short:        "Playback session daemon for Jellyfin-compatible servers",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config", "", "configuration directory (default: ~/.config/playerd)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newContinueWatchingCmd(opts),
		newResolveTracksCmd(opts),
	)
	return root
}

// loadConfig reads the configuration and sets up logging from it.
func (o *rootOptions) loadConfig() (*config.Manager, error) {
	dir := o.configDir
	if dir == "" {
		d, err := config.DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}

	mgr := config.NewManager(dir)
	loadErr := mgr.Load()

	cfg := mgr.Get()
	level := cfg.Log.Level
	if o.verbose {
		level = "debug"
	}
	log.Configure(log.Config{Level: level, Console: cfg.Log.Console, Service: "playerd"})

	if loadErr != nil {
		return nil, loadErr
	}
	return mgr, nil
}
