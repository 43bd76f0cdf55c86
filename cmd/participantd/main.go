// cmd/participantd is the entry-point for a Participant: a peer that edits
// locally, submits its patches to a Coordinator, and recovers via
// TimeMachine when a force-patch from the Coordinator no longer applies
// cleanly against locally diverged edits.
//
// Usage:
//
//	participantd connect --coordinator localhost:9000
//	participantd connect --discover :9999 --service docsync
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/musius/collaboration/pkg/docsync/clock"
	"github.com/musius/collaboration/pkg/docsync/definition"
	"github.com/musius/collaboration/pkg/docsync/diffengine"
	"github.com/musius/collaboration/pkg/docsync/discovery"
	"github.com/musius/collaboration/pkg/docsync/peer"
	"github.com/musius/collaboration/pkg/docsync/transport"
)

func main() {
	var (
		coordinatorAddr string
		discoverAddr    string
		serviceName     string
		ntpAddr         string
		name            string
	)

	root := &cobra.Command{
		Use:   "participantd",
		Short: "run a docsync Participant",
	}

	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "connect to a Coordinator and read lines of replacement text from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), runConfig{
				coordinatorAddr: coordinatorAddr,
				discoverAddr:    discoverAddr,
				serviceName:     serviceName,
				ntpAddr:         ntpAddr,
				name:            name,
			})
		},
	}
	connectCmd.Flags().StringVar(&coordinatorAddr, "coordinator", "", "Coordinator address to dial (host:port)")
	connectCmd.Flags().StringVar(&discoverAddr, "discover", "", "UDP address to query a discovery beacon on, instead of --coordinator")
	connectCmd.Flags().StringVar(&serviceName, "service", "docsync", "service name to query the discovery beacon for")
	connectCmd.Flags().StringVar(&ntpAddr, "ntp-addr", "", "SNTP server (host:port) for clock adjustment; local wall clock if empty")
	connectCmd.Flags().StringVar(&name, "name", "participant", "this peer's name, used in log lines")

	root.AddCommand(connectCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runConfig struct {
	coordinatorAddr string
	discoverAddr    string
	serviceName     string
	ntpAddr         string
	name            string
}

// consoleEditor is the minimal EditorSink this CLI offers: force-patches
// and recovery replays are logged as a command stream rather than applied
// to a real buffer. A genuine editor integration implements
// peer.EditorSink itself; this is a smoke-test stand-in.
type consoleEditor struct {
	log *definition.DefaultLogger
}

func (e *consoleEditor) Apply(commands []diffengine.EditorCommand) {
	for _, c := range commands {
		kind := "insert"
		if c.Kind == diffengine.Delete {
			kind = "delete"
		}
		e.log.Infof("%s @%d %q", kind, c.Offset, c.Text)
	}
}

func run(ctx context.Context, cfg runConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := definition.NewStderrLogger(cfg.name)

	addr := cfg.coordinatorAddr
	if addr == "" {
		if cfg.discoverAddr == "" {
			return fmt.Errorf("participantd: one of --coordinator or --discover is required")
		}
		found, err := discovery.Locate(ctx, cfg.discoverAddr, cfg.serviceName)
		if err != nil {
			return fmt.Errorf("discover coordinator: %w", err)
		}
		addr = found
		log.Infof("discovered coordinator at %s", addr)
	}

	clk, err := resolveClock(ctx, cfg.ntpAddr)
	if err != nil {
		return err
	}

	session := transport.NewSession(log)
	participant := peer.NewParticipant(cfg.name, clk, log, &consoleEditor{log: log})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		session.Run(ctx)
		return nil
	})

	conn, err := session.DialWithRetry(ctx, addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	participant.Connect(session, conn, addr)

	text, err := participant.FetchText(ctx)
	if err != nil {
		return fmt.Errorf("fetch initial text: %w", err)
	}
	log.Infof("starting text: %q", text)

	group.Go(func() error {
		return readStdinLoop(ctx, participant, log)
	})

	group.Go(func() error {
		<-ctx.Done()
		return session.Close()
	})

	return group.Wait()
}

// readStdinLoop treats each line of stdin as the full replacement text for
// the document, diffing it against the last known state and submitting the
// result — a minimal driver exercising Participant.OnLocalTextChanged
// without a real editor integration.
func readStdinLoop(ctx context.Context, p *peer.Participant, log *definition.DefaultLogger) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		line := scanner.Text()
		result, err := p.OnLocalTextChanged(ctx, line)
		if err != nil {
			log.Warnf("apply failed: %v", err)
			continue
		}
		if result.NoWork {
			continue
		}
		log.Infof("submitted edit, accepted=%v", result.Succeed)
	}
	return scanner.Err()
}

func resolveClock(ctx context.Context, ntpAddr string) (clock.Source, error) {
	if ntpAddr == "" {
		return clock.Local{}, nil
	}
	return clock.NewNTPAdjusted(ctx, ntpAddr)
}
