package radio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tarm/serial"
)

// Serial framing between the host and a UART-attached LoRa modem:
//
//	0xA5 | length u16 | crc u16 | payload
//
// length and crc are little-endian; crc is CRC-16/CCITT-FALSE over payload.
const (
	syncByte       = 0xA5
	headerLen      = 5
	MaxSerialFrame = 1024

	crcPolynomial = 0x1021
)

// SerialConfig configures the UART.
type SerialConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	RxBuffer    int
}

// SerialLink exchanges frames with a LoRa modem over a serial port.
type SerialLink struct {
	port   io.ReadWriteCloser
	frames chan Frame
	logger *slog.Logger
	now    func() time.Time

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once

	failed  chan struct{}
	readErr error
}

// OpenSerialLink opens the UART and starts reading frames.
func OpenSerialLink(cfg SerialConfig, logger *slog.Logger) (*SerialLink, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout})
	if err != nil {
		return nil, fmt.Errorf("radio: open serial port %s: %w", cfg.Port, err)
	}
	logger.Info("serial port open", "component", "radio", "port", cfg.Port,
		"baud", humanize.Comma(int64(cfg.Baud)))
	return NewSerialLink(port, cfg.RxBuffer, logger), nil
}

// NewSerialLink runs the framing protocol over an already open port.
func NewSerialLink(port io.ReadWriteCloser, rxBuffer int, logger *slog.Logger) *SerialLink {
	if rxBuffer <= 0 {
		rxBuffer = 1
	}
	l := &SerialLink{
		port:   port,
		frames: make(chan Frame, rxBuffer),
		logger: logger.With("component", "radio", "transport", "serial"),
		now:    time.Now,
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}
	go l.readLoop()
	return l
}

// EncodeSerialFrame wraps payload in the serial framing.
func EncodeSerialFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxSerialFrame {
		return nil, fmt.Errorf("radio: payload of %s exceeds serial frame limit", humanize.Bytes(uint64(len(payload))))
	}
	b := make([]byte, headerLen+len(payload))
	b[0] = syncByte
	binary.LittleEndian.PutUint16(b[1:3], uint16(len(payload)))
	binary.LittleEndian.PutUint16(b[3:5], Checksum(payload))
	copy(b[headerLen:], payload)
	return b, nil
}

// Checksum computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func Checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func (l *SerialLink) Transmit(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	frame, err := EncodeSerialFrame(payload)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.port.Write(frame); err != nil {
		return fmt.Errorf("radio: serial write: %w", err)
	}
	return nil
}

func (l *SerialLink) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-l.frames:
		return f, nil
	case <-l.done:
		return Frame{}, ErrClosed
	case <-l.failed:
		return Frame{}, l.readErr
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (l *SerialLink) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.port.Close()
	})
	return err
}

func (l *SerialLink) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// readLoop scans for sync bytes and delivers frames whose checksum matches.
func (l *SerialLink) readLoop() {
	r := bufio.NewReader(l.port)
	header := make([]byte, headerLen-1)

	for {
		b, err := r.ReadByte()
		if err != nil {
			if l.readFailed(err) {
				return
			}
			continue
		}
		if b != syncByte {
			continue
		}

		if _, err := io.ReadFull(r, header); err != nil {
			if l.readFailed(err) {
				return
			}
			continue
		}
		length := int(binary.LittleEndian.Uint16(header[0:2]))
		want := binary.LittleEndian.Uint16(header[2:4])
		if length > MaxSerialFrame {
			l.logger.Warn("dropping oversized frame", "length", length)
			continue
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			if l.readFailed(err) {
				return
			}
			continue
		}
		if got := Checksum(payload); got != want {
			l.logger.Warn("checksum mismatch, dropping frame",
				"expected", fmt.Sprintf("0x%04X", want), "got", fmt.Sprintf("0x%04X", got))
			continue
		}

		select {
		case l.frames <- Frame{Payload: payload, ReceivedAt: l.now()}:
		default:
			l.logger.Warn("receive buffer full, dropping frame", "bytes", length)
		}
	}
}

// readFailed reports whether the read loop must stop. io.EOF is how the
// serial driver reports a read timeout, so it is retried.
func (l *SerialLink) readFailed(err error) bool {
	if l.closed() {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return false
	}
	l.readErr = fmt.Errorf("radio: serial read: %w", err)
	close(l.failed)
	l.logger.Error("serial read failed", "error", err)
	return true
}
