// Package hardware talks to the water level sensor gateway over a
// line-oriented text protocol.
package hardware

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	agenticrag "github.com/changxeokSong/agentic-rag"
)

// Gateway is the hardware boundary for sensor readings and pump actuation.
type Gateway interface {
	// ReadLevel takes a live reading for the given site.
	ReadLevel(ctx context.Context, site string) (agenticrag.WaterLevelSample, error)
	// SetPump switches one pump on or off.
	SetPump(ctx context.Context, site, pump string, on bool) error
	// Close releases the underlying connection.
	Close() error
}

// Dialer opens a connection to the gateway. It is injected so tests and
// deployments can supply serial lines, TCP sockets, or in-memory fakes
// interchangeably.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// LineGateway implements Gateway over a single line-oriented connection.
//
// Protocol, one request and one reply per line:
//
//	-> READ <site>
//	<- LEVEL <value> [<pump>=on|off ...]
//	-> PUMP <site> <pump> ON|OFF
//	<- OK
//	<- ERR <message>
//
// Commands are serialized; the device answers one request at a time. A
// broken connection is redialed once per command before giving up.
type LineGateway struct {
	dial Dialer
	log  zerolog.Logger

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	reader *bufio.Reader
}

// NewLineGateway creates a gateway over the given dialer. The connection is
// opened lazily on first use.
func NewLineGateway(dial Dialer, log zerolog.Logger) *LineGateway {
	return &LineGateway{dial: dial, log: log}
}

// ReadLevel implements Gateway.
func (g *LineGateway) ReadLevel(ctx context.Context, site string) (agenticrag.WaterLevelSample, error) {
	reply, err := g.exchange(ctx, fmt.Sprintf("READ %s", site))
	if err != nil {
		return agenticrag.WaterLevelSample{}, err
	}

	fields := strings.Fields(reply)
	if len(fields) < 2 || fields[0] != "LEVEL" {
		return agenticrag.WaterLevelSample{}, agenticrag.NewUnavailableError("hardware", "sensor gateway",
			fmt.Errorf("unexpected reply %q", reply))
	}

	level, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return agenticrag.WaterLevelSample{}, agenticrag.NewUnavailableError("hardware", "sensor gateway",
			fmt.Errorf("bad level in reply %q: %w", reply, err))
	}

	sample := agenticrag.WaterLevelSample{
		Site:      site,
		Timestamp: time.Now(),
		Level:     level,
		Source:    agenticrag.SourceSensor,
	}
	if len(fields) > 2 {
		sample.Pumps = parsePumpStates(fields[2:])
	}
	return sample, nil
}

// SetPump implements Gateway.
func (g *LineGateway) SetPump(ctx context.Context, site, pump string, on bool) error {
	verb := "OFF"
	if on {
		verb = "ON"
	}
	reply, err := g.exchange(ctx, fmt.Sprintf("PUMP %s %s %s", site, pump, verb))
	if err != nil {
		return agenticrag.NewActuationError(site, pump, err)
	}
	if reply != "OK" {
		return agenticrag.NewActuationError(site, pump, fmt.Errorf("gateway refused: %s", strings.TrimPrefix(reply, "ERR ")))
	}
	return nil
}

// Close implements Gateway.
func (g *LineGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	g.reader = nil
	return err
}

// exchange sends one command and reads one reply line, redialing once on a
// connection failure.
func (g *LineGateway) exchange(ctx context.Context, command string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	reply, err := g.exchangeLocked(ctx, command)
	if err == nil {
		return reply, nil
	}

	// One reconnect attempt, then report the gateway as unavailable.
	g.log.Warn().Err(err).Str("command", command).Msg("gateway exchange failed, redialing")
	g.dropLocked()
	reply, err = g.exchangeLocked(ctx, command)
	if err != nil {
		return "", agenticrag.NewUnavailableError("hardware", "sensor gateway", err)
	}
	return reply, nil
}

func (g *LineGateway) exchangeLocked(ctx context.Context, command string) (string, error) {
	if g.conn == nil {
		conn, err := g.dial(ctx)
		if err != nil {
			return "", err
		}
		g.conn = conn
		g.reader = bufio.NewReader(conn)
	}

	if _, err := io.WriteString(g.conn, command+"\n"); err != nil {
		return "", err
	}
	line, err := g.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (g *LineGateway) dropLocked() {
	if g.conn != nil {
		_ = g.conn.Close()
	}
	g.conn = nil
	g.reader = nil
}

// parsePumpStates reads "pump-1=on pump-2=off" tokens.
func parsePumpStates(tokens []string) map[string]bool {
	pumps := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		name, state, found := strings.Cut(token, "=")
		if !found {
			continue
		}
		pumps[name] = strings.EqualFold(state, "on")
	}
	return pumps
}
