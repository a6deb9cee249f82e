// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package pnet

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/neowu/mysqlconn/lib/config"
	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/neowu/mysqlconn/pkg/keepalive"
	"go.uber.org/zap"
)

const (
	defaultWriterSize = 16 * 1024
	defaultReaderSize = 16 * 1024
	// maxReusableBufferSize caps the capacity the reusable payload buffer may
	// keep between reads. A buffer grown beyond it by one oversized result is
	// released after use so it does not pin memory for the connection lifetime.
	maxReusableBufferSize = 1 << 20
)

type buffer interface {
	Peek(n int) ([]byte, error)
	Discard(n int) (int, error)
	Flush() error
}

type packetReadWriter interface {
	net.Conn
	buffer
	// DirectWrite bypasses the write buffer. The TLS handshake needs it
	// because it assumes written data is flushed automatically.
	DirectWrite(p []byte) (int, error)
	afterRead()
	reset()
	tlsConnectionState() tls.ConnectionState
	getInBytes() uint64
	getOutBytes() uint64
}

// rdbufConn buffers reads and writes for non-TLS connections.
type rdbufConn struct {
	net.Conn
	*bufio.ReadWriter
	inBytes  uint64
	outBytes uint64
}

func newRdbufConn(conn net.Conn) *rdbufConn {
	return &rdbufConn{
		Conn:       conn,
		ReadWriter: bufio.NewReadWriter(bufio.NewReaderSize(conn, defaultReaderSize), bufio.NewWriterSize(conn, defaultWriterSize)),
	}
}

func (f *rdbufConn) Read(b []byte) (n int, err error) {
	n, err = f.ReadWriter.Read(b)
	f.inBytes += uint64(n)
	return n, err
}

func (f *rdbufConn) Write(p []byte) (n int, err error) {
	n, err = f.ReadWriter.Write(p)
	f.outBytes += uint64(n)
	return n, err
}

func (f *rdbufConn) DirectWrite(p []byte) (n int, err error) {
	if err := f.ReadWriter.Flush(); err != nil {
		return 0, err
	}
	n, err = f.Conn.Write(p)
	f.outBytes += uint64(n)
	return n, err
}

func (f *rdbufConn) afterRead() {
}

func (f *rdbufConn) reset() {
}

func (f *rdbufConn) getInBytes() uint64 {
	return f.inBytes
}

func (f *rdbufConn) getOutBytes() uint64 {
	return f.outBytes
}

func (f *rdbufConn) tlsConnectionState() tls.ConnectionState {
	if conn, ok := f.Conn.(*tls.Conn); ok {
		return conn.ConnectionState()
	}
	return tls.ConnectionState{}
}

// PacketIO is a helper to read and write MySQL packets.
type PacketIO struct {
	lastKeepAlive    config.KeepAlive
	rawConn          net.Conn
	readWriter       packetReadWriter
	logger           *zap.Logger
	remoteAddr       net.Addr
	wrap             error
	readTimeout      time.Duration
	maxAllowedPacket int
	// payload is reused across reads; see ReadPacket.
	payload  []byte
	sequence uint8
}

func NewPacketIO(conn net.Conn, lg *zap.Logger, opts ...PacketIOption) *PacketIO {
	p := &PacketIO{
		rawConn:    conn,
		logger:     lg,
		sequence:   0,
		readWriter: newRdbufConn(conn),
	}
	p.ApplyOpts(opts...)
	return p
}

func (p *PacketIO) ApplyOpts(opts ...PacketIOption) {
	for _, opt := range opts {
		opt(p)
	}
}

func (p *PacketIO) wrapErr(err error) error {
	return errors.WithStack(errors.Wrap(p.wrap, err))
}

func (p *PacketIO) LocalAddr() net.Addr {
	return p.readWriter.LocalAddr()
}

func (p *PacketIO) RemoteAddr() net.Addr {
	if p.remoteAddr != nil {
		return p.remoteAddr
	}
	return p.readWriter.RemoteAddr()
}

func (p *PacketIO) ResetSequence() {
	p.sequence = 0
	p.readWriter.reset()
}

// GetSequence is used in tests to assert that the sequences on both sides are equal.
func (p *PacketIO) GetSequence() uint8 {
	return p.sequence
}

// SetReadTimeout sets the timeout of reading one packet. 0 blocks forever.
func (p *PacketIO) SetReadTimeout(timeout time.Duration) {
	p.readTimeout = timeout
}

// SetMaxAllowedPacket caps outgoing payloads. Oversized payloads fail with
// ErrPacketTooBig before any byte is written so that the connection state
// stays consistent. 0 means no limit.
func (p *PacketIO) SetMaxAllowedPacket(size int) {
	p.maxAllowedPacket = size
}

// readOnePacket appends one packet body to the payload buffer, growing it on
// demand.
func (p *PacketIO) readOnePacket() (bool, error) {
	var header [4]byte
	defer p.readWriter.afterRead()
	if p.readTimeout > 0 {
		if err := p.readWriter.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
			return false, errors.Wrap(ErrReadConn, err)
		}
	}
	if _, err := io.ReadFull(p.readWriter, header[:]); err != nil {
		return false, errors.Wrap(ErrReadConn, err)
	}
	sequence := header[3]
	if sequence != p.sequence {
		return false, errors.Wrapf(ErrInvalidSequence, "expected %d, actual %d", p.sequence, sequence)
	}
	p.sequence++

	length := int(uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16)
	start := len(p.payload)
	if need := start + length; need > cap(p.payload) {
		grown := make([]byte, need)
		copy(grown, p.payload)
		p.payload = grown
	} else {
		p.payload = p.payload[:start+length]
	}
	if _, err := io.ReadFull(p.readWriter, p.payload[start:]); err != nil {
		return false, errors.Wrap(ErrReadConn, err)
	}
	return length == MaxPayloadLen, nil
}

// ReadPacket reads data and removes the header. The returned slice points
// into a buffer owned by the PacketIO and reused by the next read; callers
// retain only data they have copied out.
func (p *PacketIO) ReadPacket() ([]byte, error) {
	p.payload = p.payload[:0]
	for more := true; more; {
		var err error
		if more, err = p.readOnePacket(); err != nil {
			return nil, p.wrapErr(err)
		}
	}
	data := p.payload
	if cap(p.payload) > maxReusableBufferSize {
		p.payload = nil
	}
	return data, nil
}

func (p *PacketIO) writeOnePacket(data []byte) (int, bool, error) {
	more := false
	length := len(data)
	if length >= MaxPayloadLen {
		// we need another packet, this is true even if
		// the current packet is of len(MaxPayloadLen) exactly
		length = MaxPayloadLen
		more = true
	}

	var header [4]byte
	header[0] = byte(length)
	header[1] = byte(length >> 8)
	header[2] = byte(length >> 16)
	header[3] = p.sequence
	p.sequence++

	if _, err := io.Copy(p.readWriter, bytes.NewReader(header[:])); err != nil {
		return 0, more, errors.Wrap(ErrWriteConn, err)
	}

	if _, err := io.Copy(p.readWriter, bytes.NewReader(data[:length])); err != nil {
		return 0, more, errors.Wrap(ErrWriteConn, err)
	}

	return length, more, nil
}

// WritePacket writes data without a header.
func (p *PacketIO) WritePacket(data []byte, flush bool) (err error) {
	if p.maxAllowedPacket > 0 && len(data) > p.maxAllowedPacket {
		return p.wrapErr(errors.Wrapf(ErrPacketTooBig, "payload length %d exceeds max allowed packet %d", len(data), p.maxAllowedPacket))
	}
	for more := true; more; {
		var n int
		n, more, err = p.writeOnePacket(data)
		if err != nil {
			err = p.wrapErr(err)
			return
		}
		data = data[n:]
	}
	if flush {
		return p.Flush()
	}
	return nil
}

func (p *PacketIO) InBytes() uint64 {
	return p.readWriter.getInBytes()
}

func (p *PacketIO) OutBytes() uint64 {
	return p.readWriter.getOutBytes()
}

func (p *PacketIO) Flush() error {
	if err := p.readWriter.Flush(); err != nil {
		return p.wrapErr(errors.Wrap(ErrFlushConn, err))
	}
	return nil
}

// IsPeerActive checks if the peer connection is still active.
// This function cannot be called concurrently with other functions of PacketIO.
// This function normally costs 1ms, so don't call it too frequently.
// This function may incorrectly return true if the system is extremely slow.
func (p *PacketIO) IsPeerActive() bool {
	if err := p.readWriter.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	active := true
	if _, err := p.readWriter.Peek(1); err != nil {
		active = !errors.Is(err, io.EOF)
	}
	if err := p.readWriter.SetReadDeadline(time.Time{}); err != nil {
		return false
	}
	return active
}

func (p *PacketIO) SetKeepalive(cfg config.KeepAlive) error {
	if cfg == p.lastKeepAlive {
		return nil
	}
	p.lastKeepAlive = cfg
	return keepalive.SetKeepalive(p.rawConn, cfg)
}

// LastKeepAlive is used for test.
func (p *PacketIO) LastKeepAlive() config.KeepAlive {
	return p.lastKeepAlive
}

func (p *PacketIO) GracefulClose() error {
	if err := p.readWriter.SetDeadline(time.Now()); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (p *PacketIO) Close() error {
	var errs []error
	if err := p.readWriter.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	return p.wrapErr(errors.Collect(ErrCloseConn, errs...))
}
