// cmd/coordinatord is the entry-point for the Coordinator half of the
// convergence engine: the single authoritative peer at the center of the
// star topology, accepting Participant connections and fanning out every
// accepted patch.
//
// Usage:
//
//	coordinatord serve --listen :9000 --ntp-addr time.google.com:123
//	coordinatord serve --listen :9000 --beacon :9999 --service docsync
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/musius/collaboration/pkg/docsync/clock"
	"github.com/musius/collaboration/pkg/docsync/definition"
	"github.com/musius/collaboration/pkg/docsync/discovery"
	"github.com/musius/collaboration/pkg/docsync/peer"
	"github.com/musius/collaboration/pkg/docsync/transport"
)

func main() {
	var (
		listenAddr string
		ntpAddr    string
		beaconAddr string
		serviceName string
		initialText string
	)

	root := &cobra.Command{
		Use:   "coordinatord",
		Short: "run the docsync Coordinator",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "listen for Participant connections and serialize their edits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), serveConfig{
				listenAddr:  listenAddr,
				ntpAddr:     ntpAddr,
				beaconAddr:  beaconAddr,
				serviceName: serviceName,
				initialText: initialText,
			})
		},
	}
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":9000", "address to accept Participant connections on")
	serveCmd.Flags().StringVar(&ntpAddr, "ntp-addr", "", "SNTP server (host:port) for clock adjustment; local wall clock if empty")
	serveCmd.Flags().StringVar(&beaconAddr, "beacon", "", "UDP address to serve discovery beacon on; disabled if empty")
	serveCmd.Flags().StringVar(&serviceName, "service", "docsync", "service name announced by the discovery beacon")
	serveCmd.Flags().StringVar(&initialText, "initial-text", "", "document text to seed the Coordinator with at startup")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type serveConfig struct {
	listenAddr  string
	ntpAddr     string
	beaconAddr  string
	serviceName string
	initialText string
}

func serve(ctx context.Context, cfg serveConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := definition.NewStderrLogger("coordinator")

	clk, err := resolveClock(ctx, cfg.ntpAddr)
	if err != nil {
		return err
	}

	session := transport.NewSession(log)
	coordinator := peer.NewCoordinator(cfg.initialText, clk, log)
	coordinator.Attach(session)
	session.OnPeerConnected = func(h transport.PeerHandle) { coordinator.AddPeer(h.ID(), h) }
	session.OnPeerDisconnected = coordinator.RemovePeer

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		session.Run(ctx)
		return nil
	})

	port, err := session.Listen(ctx, cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.listenAddr, err)
	}
	log.Infof("coordinator listening on %s", port.Addr())

	if cfg.beaconAddr != "" {
		beacon := discovery.NewBeacon(cfg.serviceName, cfg.listenAddr, log)
		group.Go(func() error {
			if err := beacon.Serve(ctx, cfg.beaconAddr); err != nil && ctx.Err() == nil {
				return fmt.Errorf("discovery beacon: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		_ = coordinator.Shutdown()
		_ = port.Close()
		return session.Close()
	})

	return group.Wait()
}

func resolveClock(ctx context.Context, ntpAddr string) (clock.Source, error) {
	if ntpAddr == "" {
		return clock.Local{}, nil
	}
	return clock.NewNTPAdjusted(ctx, ntpAddr)
}
