package hardware

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	agenticrag "github.com/changxeokSong/agentic-rag"
)

// scriptedConn replies to each written command from a canned script.
type scriptedConn struct {
	script  map[string]string
	pending strings.Builder
	reply   strings.Reader
	closed  bool
	writes  []string
	failAll bool
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	if c.failAll {
		return 0, io.ErrClosedPipe
	}
	c.pending.Write(p)
	for {
		buffered := c.pending.String()
		idx := strings.Index(buffered, "\n")
		if idx < 0 {
			break
		}
		command := buffered[:idx]
		c.pending.Reset()
		c.pending.WriteString(buffered[idx+1:])
		c.writes = append(c.writes, command)
		reply, ok := c.script[command]
		if !ok {
			reply = "ERR unknown command"
		}
		c.reply = *strings.NewReader(reply + "\n")
	}
	return len(p), nil
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	if c.failAll {
		return 0, io.ErrClosedPipe
	}
	return c.reply.Read(p)
}

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

func dialerFor(conns ...io.ReadWriteCloser) Dialer {
	i := 0
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		if i >= len(conns) {
			return nil, io.ErrClosedPipe
		}
		conn := conns[i]
		i++
		return conn, nil
	}
}

func TestLineGateway_ReadLevel(t *testing.T) {
	conn := &scriptedConn{script: map[string]string{
		"READ site-a": "LEVEL 73.5 pump-1=on pump-2=off",
	}}
	g := NewLineGateway(dialerFor(conn), zerolog.Nop())

	sample, err := g.ReadLevel(context.Background(), "site-a")
	if err != nil {
		t.Fatalf("ReadLevel failed: %v", err)
	}
	if sample.Level != 73.5 {
		t.Errorf("expected level 73.5, got %v", sample.Level)
	}
	if sample.Source != agenticrag.SourceSensor {
		t.Errorf("expected sensor source, got %s", sample.Source)
	}
	if !sample.Pumps["pump-1"] || sample.Pumps["pump-2"] {
		t.Errorf("unexpected pump states: %v", sample.Pumps)
	}
}

func TestLineGateway_SetPump(t *testing.T) {
	conn := &scriptedConn{script: map[string]string{
		"PUMP site-a pump-1 ON": "OK",
	}}
	g := NewLineGateway(dialerFor(conn), zerolog.Nop())

	if err := g.SetPump(context.Background(), "site-a", "pump-1", true); err != nil {
		t.Fatalf("SetPump failed: %v", err)
	}
	if len(conn.writes) != 1 || conn.writes[0] != "PUMP site-a pump-1 ON" {
		t.Errorf("unexpected commands written: %v", conn.writes)
	}
}

func TestLineGateway_RefusedActuation(t *testing.T) {
	conn := &scriptedConn{script: map[string]string{
		"PUMP site-a pump-9 ON": "ERR no such pump",
	}}
	g := NewLineGateway(dialerFor(conn), zerolog.Nop())

	err := g.SetPump(context.Background(), "site-a", "pump-9", true)
	if err == nil {
		t.Fatal("expected error for refused actuation, got nil")
	}
	if !agenticrag.HasCode(err, agenticrag.ErrCodeActuation) {
		t.Errorf("expected actuation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no such pump") {
		t.Errorf("error should carry the gateway message: %v", err)
	}
}

func TestLineGateway_ReconnectsOnce(t *testing.T) {
	dead := &scriptedConn{failAll: true}
	healthy := &scriptedConn{script: map[string]string{
		"READ site-a": "LEVEL 42.0",
	}}
	g := NewLineGateway(dialerFor(dead, healthy), zerolog.Nop())

	sample, err := g.ReadLevel(context.Background(), "site-a")
	if err != nil {
		t.Fatalf("ReadLevel should succeed after redial: %v", err)
	}
	if sample.Level != 42.0 {
		t.Errorf("expected level 42.0, got %v", sample.Level)
	}
	if !dead.closed {
		t.Error("broken connection should be closed before redial")
	}
}

func TestLineGateway_UnavailableAfterRedialFails(t *testing.T) {
	dead1 := &scriptedConn{failAll: true}
	dead2 := &scriptedConn{failAll: true}
	g := NewLineGateway(dialerFor(dead1, dead2), zerolog.Nop())

	_, err := g.ReadLevel(context.Background(), "site-a")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !agenticrag.IsUnavailable(err) {
		t.Errorf("expected unavailable error, got %v", err)
	}
}
