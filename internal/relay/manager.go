// internal/relay/manager.go
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"afterglow/internal/utils"
)

// DefaultReadBufferSize is the largest chunk a single read yields
const DefaultReadBufferSize = 64 * 1024

// Writer is the single serial entry point frames are written through
type Writer interface {
	Write(ctx context.Context, data []byte) error
}

// Connection is one live client socket
type Connection struct {
	Address     string
	Port        int
	ConnectedAt time.Time

	conn   net.Conn
	framer *StreamFramer
	buf    []byte
	logger *utils.ConnectionLogger
}

// Key identifies the connection in the live-connection set
func (c *Connection) Key() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// Options tunes a ConnectionManager
type Options struct {
	ReadBufferSize int
}

// ConnectionManager accepts clients and drives each one through
// framing, translation and the serial write.
type ConnectionManager struct {
	writer     Writer
	translator *Translator
	tracker    *ActivityTracker
	sink       Sink
	logger     *zap.Logger
	bufferSize int

	mutex       sync.Mutex
	connections map[string]*Connection
	wg          sync.WaitGroup

	failed    atomic.Bool
	fatalOnce sync.Once
	fatalErr  error
	cancel    context.CancelFunc
}

// NewConnectionManager creates a manager writing through writer
func NewConnectionManager(
	writer Writer,
	translator *Translator,
	tracker *ActivityTracker,
	sink Sink,
	logger *zap.Logger,
	opts Options,
) *ConnectionManager {
	if sink == nil {
		sink = NopSink{}
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}

	return &ConnectionManager{
		writer:      writer,
		translator:  translator,
		tracker:     tracker,
		sink:        sink,
		logger:      logger.With(zap.String("component", "relay")),
		bufferSize:  opts.ReadBufferSize,
		connections: make(map[string]*Connection),
	}
}

// Serve accepts connections on ln until ctx is cancelled or a serial
// write fails. It closes ln and every live connection before returning.
// A serial failure is returned wrapped; a cancelled ctx returns nil.
func (m *ConnectionManager) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mutex.Lock()
	m.cancel = cancel
	m.mutex.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	m.logger.Info("Accepting connections", zap.String("address", ln.Addr().String()))

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				acceptErr = fmt.Errorf("failed to accept connection: %w", err)
				cancel()
			}
			break
		}

		// the listener may have accepted before it was closed
		if ctx.Err() != nil || m.failed.Load() {
			conn.Close()
			break
		}

		c := m.OnConnect(conn)
		m.wg.Add(1)
		go m.handle(ctx, c)
	}

	m.closeAll()
	m.wg.Wait()

	if err := m.Err(); err != nil {
		return err
	}
	return acceptErr
}

// handle runs the read loop of one connection
func (m *ConnectionManager) handle(ctx context.Context, c *Connection) {
	defer m.wg.Done()
	defer m.OnClose(c)

	for {
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			if werr := m.OnData(ctx, c, c.buf[:n]); werr != nil {
				m.fail(werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("Connection read ended", zap.Error(err))
			}
			return
		}
	}
}

// OnConnect registers a freshly accepted socket in the live set
func (m *ConnectionManager) OnConnect(conn net.Conn) *Connection {
	address, port := splitAddr(conn.RemoteAddr())
	c := &Connection{
		Address:     address,
		Port:        port,
		ConnectedAt: time.Now(),
		conn:        conn,
		framer:      NewStreamFramer(),
		buf:         make([]byte, m.bufferSize),
		logger:      utils.NewConnectionLogger(m.logger, address, port),
	}

	m.mutex.Lock()
	m.connections[c.Key()] = c
	m.tracker.SetActiveConnections(len(m.connections))
	m.mutex.Unlock()

	m.sink.Connected(address, port)
	return c
}

// OnData runs one chunk through the pipeline. Segments that fail to parse
// are reported and skipped. The returned error is always a serial write
// failure, after which nothing more is written.
func (m *ConnectionManager) OnData(ctx context.Context, c *Connection, chunk []byte) error {
	segments := c.framer.Feed(chunk)
	if len(segments) == 0 {
		return nil
	}

	var writeErr error
	rejected := 0
	for _, segment := range segments {
		m.tracker.AddMessages(1)

		frame, err := m.translator.ParseAndEncode(segment)
		if err != nil {
			rejected++
			c.logger.Debug("Rejected segment", zap.String("segment", segment), zap.Error(err))
			m.sink.ParseWarning(err)
			continue
		}

		if m.failed.Load() {
			writeErr = m.Err()
			break
		}
		// shutting down: drop the rest of the batch
		if ctx.Err() != nil {
			break
		}
		if err := m.writer.Write(context.WithoutCancel(ctx), []byte(frame)); err != nil {
			writeErr = fmt.Errorf("could not write to serial device: %w", err)
			break
		}
	}
	m.tracker.Touch()

	c.logger.LogChunk(len(chunk), len(segments), rejected)
	return writeErr
}

// OnClose removes the connection from the live set
func (m *ConnectionManager) OnClose(c *Connection) {
	c.conn.Close()

	m.mutex.Lock()
	_, ok := m.connections[c.Key()]
	if ok {
		delete(m.connections, c.Key())
		m.tracker.SetActiveConnections(len(m.connections))
	}
	m.mutex.Unlock()

	if ok {
		m.sink.Disconnected(c.Address, c.Port)
	}
}

// Connections returns the keys of the live connections, sorted
func (m *ConnectionManager) Connections() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	keys := make([]string, 0, len(m.connections))
	for key := range m.connections {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Err returns the serial failure that stopped the manager, if any
func (m *ConnectionManager) Err() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.fatalErr
}

// fail reports the first serial failure and stops accepting
func (m *ConnectionManager) fail(err error) {
	m.fatalOnce.Do(func() {
		m.failed.Store(true)

		m.mutex.Lock()
		m.fatalErr = err
		cancel := m.cancel
		m.mutex.Unlock()

		if cancel != nil {
			cancel()
		}

		m.logger.Error("Serial write failed, stopping relay", zap.Error(err))
		m.sink.Fatal(err.Error())
	})
}

// closeAll closes every live socket so their read loops end
func (m *ConnectionManager) closeAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, c := range m.connections {
		c.conn.Close()
	}
}

func splitAddr(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, portText, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portText)
	return host, port
}
