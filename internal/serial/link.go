// internal/serial/link.go
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	tarm "github.com/tarm/serial"
	bugst "go.bug.st/serial"
	"go.uber.org/zap"
)

var (
	// ErrOpen is returned when the serial device cannot be opened
	ErrOpen = errors.New("serial open failed")
	// ErrWrite is returned when a frame could not be written to the device.
	// The downstream device state is unknown after it, callers treat it as fatal.
	ErrWrite = errors.New("serial write failed")
	// ErrClosed is returned when writing to a link that was closed
	ErrClosed = errors.New("serial link closed")
)

// Port is the part of an open serial device the link needs
type Port interface {
	io.Writer
	io.Closer
}

// Config represents serial port configuration
type Config struct {
	Path     string `json:"path"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
	Backend  string `json:"backend"`
}

// Stats describes the writes performed through a link
type Stats struct {
	FramesWritten int64     `json:"frames_written"`
	BytesWritten  int64     `json:"bytes_written"`
	LastWrite     time.Time `json:"last_write"`
	IsOpen        bool      `json:"is_open"`
}

// Link owns the single open serial device. Write holds an exclusive lock
// for the whole frame so frames from different callers never interleave.
// The first failed write poisons the link: every later Write fails with it.
type Link struct {
	config *Config
	port   Port
	logger *zap.Logger
	mutex  sync.Mutex
	isOpen bool
	failed error
	stats  Stats
}

// opener opens a device for a backend
type opener func(cfg *Config) (Port, error)

var openers = map[string]opener{
	"bugst": openBugst,
	"tarm":  openTarm,
}

// Open opens the configured serial device and returns a link owning it
func Open(ctx context.Context, cfg *Config, logger *zap.Logger) (*Link, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: device path is required", ErrOpen)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	backend := cfg.Backend
	if backend == "" {
		backend = "bugst"
	}
	open, ok := openers[backend]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q", ErrOpen, backend)
	}

	port, err := open(cfg)
	if err != nil {
		logger.Error("Failed to open serial port",
			zap.Error(err),
			zap.String("path", cfg.Path),
			zap.String("backend", backend),
		)
		return nil, fmt.Errorf("%w: could not connect to serial %s: %w", ErrOpen, cfg.Path, err)
	}

	link := NewLink(port, cfg, logger)
	link.logger.Info("Serial port opened successfully", zap.Int("baud_rate", cfg.BaudRate))
	return link, nil
}

// NewLink wraps an already open port
func NewLink(port Port, cfg *Config, logger *zap.Logger) *Link {
	return &Link{
		config: cfg,
		port:   port,
		logger: logger.With(
			zap.String("component", "serial"),
			zap.String("path", cfg.Path),
		),
		isOpen: true,
		stats:  Stats{IsOpen: true},
	}
}

// Write writes one frame to the serial device
func (l *Link) Write(ctx context.Context, data []byte) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.isOpen || l.port == nil {
		return fmt.Errorf("%w: %w", ErrWrite, ErrClosed)
	}
	if l.failed != nil {
		return l.failed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n, err := l.port.Write(data)
	if err != nil {
		l.logger.Error("Serial write failed",
			zap.Error(err),
			zap.Int("bytes_to_write", len(data)),
		)
		l.failed = fmt.Errorf("%w: %w", ErrWrite, err)
		return l.failed
	}

	if n != len(data) {
		l.failed = fmt.Errorf("%w: incomplete write: wrote %d of %d bytes", ErrWrite, n, len(data))
		return l.failed
	}

	l.stats.FramesWritten++
	l.stats.BytesWritten += int64(n)
	l.stats.LastWrite = time.Now()

	l.logger.Debug("Serial write completed", zap.ByteString("frame", data))
	return nil
}

// Close closes the serial device
func (l *Link) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.isOpen || l.port == nil {
		return nil
	}

	l.isOpen = false
	l.stats.IsOpen = false
	if err := l.port.Close(); err != nil {
		l.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	l.logger.Info("Serial port closed")
	return nil
}

// IsOpen returns whether the device is open
func (l *Link) IsOpen() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.isOpen
}

// Stats returns a copy of the write statistics
func (l *Link) Stats() Stats {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.stats
}

// GetConfig returns the link configuration
func (l *Link) GetConfig() *Config {
	return l.config
}

func openBugst(cfg *Config) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}

	switch cfg.StopBits {
	case 2:
		mode.StopBits = bugst.TwoStopBits
	default:
		mode.StopBits = bugst.OneStopBit
	}

	switch cfg.Parity {
	case "odd":
		mode.Parity = bugst.OddParity
	case "even":
		mode.Parity = bugst.EvenParity
	default:
		mode.Parity = bugst.NoParity
	}

	return bugst.Open(cfg.Path, mode)
}

func openTarm(cfg *Config) (Port, error) {
	c := &tarm.Config{
		Name: cfg.Path,
		Baud: cfg.BaudRate,
		Size: byte(cfg.DataBits),
	}

	switch cfg.StopBits {
	case 2:
		c.StopBits = tarm.Stop2
	default:
		c.StopBits = tarm.Stop1
	}

	switch cfg.Parity {
	case "odd":
		c.Parity = tarm.ParityOdd
	case "even":
		c.Parity = tarm.ParityEven
	default:
		c.Parity = tarm.ParityNone
	}

	return tarm.OpenPort(c)
}
