package minicap

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"sync/atomic"

	"github.com/mobile-next/droidcap/utils"
)

// DecodeFunc turns one raw frame into an image.
type DecodeFunc func(data []byte) (image.Image, error)

func decodeJPEG(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

// FrameStats counts what happened to ingested frames.
type FrameStats struct {
	Received uint64 `json:"received"`
	Decoded  uint64 `json:"decoded"`
	Dropped  uint64 `json:"dropped"`
}

// Sink decodes frames and publishes the most recent good one. Readers get
// copies, so a published image is never mutated after it is stored.
type Sink struct {
	decode DecodeFunc

	mu      sync.RWMutex
	latest  *image.RGBA
	raw     []byte
	seq     uint64
	updated chan struct{}

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan []byte

	received atomic.Uint64
	decoded  atomic.Uint64
	dropped  atomic.Uint64
}

// NewSink creates a sink whose snapshot starts as an opaque black image of
// the given size.
func NewSink(width, height int) *Sink {
	return NewSinkWithDecoder(width, height, decodeJPEG)
}

func NewSinkWithDecoder(width, height int, decode DecodeFunc) *Sink {
	if decode == nil {
		decode = decodeJPEG
	}

	blank := image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0)))
	draw.Draw(blank, blank.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	return &Sink{
		decode:  decode,
		latest:  blank,
		updated: make(chan struct{}),
		subs:    make(map[int]chan []byte),
	}
}

// Ingest decodes one frame. Frames that fail to decode are logged and
// dropped; the previous frame stays published.
func (s *Sink) Ingest(data []byte) {
	s.received.Add(1)

	img, err := s.decode(data)
	if err != nil {
		s.dropped.Add(1)
		metrics.FramesDropped.Inc()
		utils.Verbose("Dropping undecodable frame (%d bytes): %v", len(data), err)
		return
	}

	rgba := toRGBA(img)

	s.mu.Lock()
	s.latest = rgba
	s.raw = data
	s.seq++
	close(s.updated)
	s.updated = make(chan struct{})
	s.mu.Unlock()

	s.decoded.Add(1)
	metrics.FramesDecoded.Inc()

	s.broadcast(data)
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Snapshot returns a copy of the latest published image.
func (s *Sink) Snapshot() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := &image.RGBA{
		Pix:    make([]byte, len(s.latest.Pix)),
		Stride: s.latest.Stride,
		Rect:   s.latest.Rect,
	}
	copy(cp.Pix, s.latest.Pix)
	return cp
}

// LatestJPEG returns a copy of the raw bytes of the latest decoded frame and
// its sequence number. It returns nil before the first frame.
func (s *Sink) LatestJPEG() ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.raw == nil {
		return nil, s.seq
	}
	return bytes.Clone(s.raw), s.seq
}

// Sequence returns the number of frames published so far.
func (s *Sink) Sequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// WaitFrame blocks until a frame newer than after is published.
func (s *Sink) WaitFrame(ctx context.Context, after uint64) (uint64, error) {
	for {
		s.mu.RLock()
		seq, updated := s.seq, s.updated
		s.mu.RUnlock()

		if seq > after {
			return seq, nil
		}

		select {
		case <-updated:
		case <-ctx.Done():
			return seq, ctx.Err()
		}
	}
}

// Subscribe returns a channel receiving the raw bytes of every decoded frame.
// Slow subscribers only ever see the newest frame. The returned func
// unsubscribes and closes the channel.
func (s *Sink) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Sink) broadcast(data []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- data:
			continue
		default:
		}
		// drop the stale frame and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- data:
		default:
		}
	}
}

func (s *Sink) Stats() FrameStats {
	return FrameStats{
		Received: s.received.Load(),
		Decoded:  s.decoded.Load(),
		Dropped:  s.dropped.Load(),
	}
}
