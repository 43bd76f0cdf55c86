package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/musius/collaboration/pkg/docsync/types"
)

type noopLogger struct{}

func (noopLogger) Info(...interface{})           {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warn(...interface{})           {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Error(...interface{})          {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Debug(...interface{})          {}
func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Fatal(...interface{})          {}
func (noopLogger) Fatalf(string, ...interface{}) {}

var _ types.Logger = noopLogger{}

func TestSession_CallRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := NewSession(noopLogger{})
	server.RegisterHandler("Echo", func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return struct {
			Text string `json:"text"`
		}{Text: req.Text}, nil
	})
	go server.Run(ctx)

	port, err := server.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer port.Close()

	client := NewSession(noopLogger{})
	go client.Run(ctx)
	conn, err := client.Connect(ctx, port.Addr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	var resp struct {
		Text string `json:"text"`
	}
	err = conn.Call(ctx, "Echo", struct {
		Text string `json:"text"`
	}{Text: "hi"}, &resp)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Text != "hi" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "hi")
	}

	_ = client.Close()
	_ = server.Close()
}

func TestSession_CallUnknownCommand(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := NewSession(noopLogger{})
	go server.Run(ctx)
	port, err := server.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer port.Close()

	client := NewSession(noopLogger{})
	go client.Run(ctx)
	conn, err := client.Connect(ctx, port.Addr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	err = conn.Call(ctx, "DoesNotExist", struct{}{}, nil)
	if err != types.ErrCommandUnknown {
		t.Fatalf("err = %v, want ErrCommandUnknown", err)
	}

	_ = client.Close()
	_ = server.Close()
}
