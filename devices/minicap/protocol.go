package minicap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// BannerSize is the size of the banner minicap writes once per connection.
	BannerSize = 24

	// ChunkSize bounds each read while a frame payload is assembled.
	ChunkSize = 8192

	// DefaultMaxFrameSize guards against allocating garbage lengths from a corrupt stream.
	DefaultMaxFrameSize = 32 << 20
)

// Quirk flags reported in the banner.
const (
	QuirkDumb          = 1
	QuirkAlwaysUpright = 2
	QuirkTear          = 4
)

var (
	ErrShortBanner   = errors.New("minicap: connection closed before banner was complete")
	ErrFrameTooLarge = errors.New("minicap: frame length exceeds limit")
)

// Banner is the connection header sent by minicap. All integers are little endian.
type Banner struct {
	Version       uint8
	HeaderSize    uint8
	Pid           uint32
	RealWidth     uint32
	RealHeight    uint32
	VirtualWidth  uint32
	VirtualHeight uint32
	Orientation   uint8
	Quirks        uint8
}

// ReadBanner consumes the banner. If the banner announces a header larger
// than BannerSize the extra bytes are skipped.
func ReadBanner(r io.Reader) (Banner, error) {
	var buf [BannerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Banner{}, ErrShortBanner
		}
		return Banner{}, fmt.Errorf("failed to read banner: %w", err)
	}

	b := Banner{
		Version:       buf[0],
		HeaderSize:    buf[1],
		Pid:           binary.LittleEndian.Uint32(buf[2:6]),
		RealWidth:     binary.LittleEndian.Uint32(buf[6:10]),
		RealHeight:    binary.LittleEndian.Uint32(buf[10:14]),
		VirtualWidth:  binary.LittleEndian.Uint32(buf[14:18]),
		VirtualHeight: binary.LittleEndian.Uint32(buf[18:22]),
		Orientation:   buf[22],
		Quirks:        buf[23],
	}

	if b.HeaderSize < BannerSize {
		return b, fmt.Errorf("minicap: invalid banner header size %d", b.HeaderSize)
	}

	if extra := int64(b.HeaderSize) - BannerSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return b, ErrShortBanner
		}
	}

	return b, nil
}

// Encode serializes the banner, used by tests and fake servers.
func (b Banner) Encode() []byte {
	buf := make([]byte, BannerSize)
	buf[0] = b.Version
	buf[1] = b.HeaderSize
	binary.LittleEndian.PutUint32(buf[2:6], b.Pid)
	binary.LittleEndian.PutUint32(buf[6:10], b.RealWidth)
	binary.LittleEndian.PutUint32(buf[10:14], b.RealHeight)
	binary.LittleEndian.PutUint32(buf[14:18], b.VirtualWidth)
	binary.LittleEndian.PutUint32(buf[18:22], b.VirtualHeight)
	buf[22] = b.Orientation
	buf[23] = b.Quirks
	return buf
}

// ReadFrame reads one length-prefixed frame. A stream that ends where a
// length prefix was expected, even partway through it, yields io.EOF. A
// stream that ends inside a payload yields io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	size := binary.LittleEndian.Uint32(header[:])
	if maxSize > 0 && uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxSize)
	}

	frame := make([]byte, size)
	for received := 0; received < len(frame); {
		end := min(received+ChunkSize, len(frame))
		n, err := io.ReadFull(r, frame[received:end])
		received += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("frame truncated after %d of %d bytes: %w", received, size, err)
		}
	}

	return frame, nil
}

// EncodeFrame prefixes payload with its little endian length.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}
