package minicap

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
)

const MJPEGBoundary = "BoundaryString"

// MJPEGContentType is the content type of a stream written by MJPEGWriter.
const MJPEGContentType = "multipart/x-mixed-replace; boundary=" + MJPEGBoundary

// MJPEGWriter writes JPEG frames as parts of a multipart/x-mixed-replace stream.
type MJPEGWriter struct {
	mw *multipart.Writer
}

func NewMJPEGWriter(w io.Writer) *MJPEGWriter {
	mw := multipart.NewWriter(w)
	// a constant boundary is always valid
	_ = mw.SetBoundary(MJPEGBoundary)
	return &MJPEGWriter{mw: mw}
}

func (m *MJPEGWriter) WriteFrame(frame []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", strconv.Itoa(len(frame)))

	part, err := m.mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to write mjpeg part header: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return fmt.Errorf("failed to write mjpeg frame: %w", err)
	}
	return nil
}

// Close writes the closing boundary.
func (m *MJPEGWriter) Close() error {
	return m.mw.Close()
}
