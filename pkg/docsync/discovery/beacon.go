// Package discovery implements the optional Coordinator-only UDP beacon
// from spec.md §6: a fixed-port broadcast responder announcing a service
// name, so a Participant can locate a Coordinator without being told its
// address out of band.
package discovery

import (
	"context"
	"net"

	"github.com/musius/collaboration/pkg/docsync/types"
)

// Beacon answers discovery queries with a configured service name and the
// coordinator's advertised dial address.
type Beacon struct {
	serviceName string
	advertise   string
	log         types.Logger
}

// NewBeacon builds a Beacon announcing serviceName, telling callers to dial
// advertise to reach the Coordinator.
func NewBeacon(serviceName, advertise string, log types.Logger) *Beacon {
	return &Beacon{serviceName: serviceName, advertise: advertise, log: log}
}

// Serve listens on addr (a fixed, well-known UDP port) until ctx is
// cancelled, answering any datagram whose payload matches serviceName with
// the advertised dial address.
func (b *Beacon) Serve(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 512)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			b.log.Warnf("beacon read failed: %v", err)
			return err
		}
		query := string(buf[:n])
		if query != b.serviceName {
			continue
		}
		if _, err := conn.WriteToUDP([]byte(b.advertise), from); err != nil {
			b.log.Warnf("beacon reply to %s failed: %v", from, err)
		}
	}
}

// Locate broadcasts a single query for serviceName on addr and returns the
// first coordinator address that answers. Only ctx's deadline bounds the
// wait; with no deadline it waits for a reply even after ctx is cancelled.
func Locate(ctx context.Context, addr, serviceName string) (string, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return "", err
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(serviceName)); err != nil {
		return "", err
	}
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
