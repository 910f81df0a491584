package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	textureregistry "github.com/e7canasta/orion-care-sensor/modules/texture-registry"
)

var streamSeq atomic.Uint64

// encodeJPEG encodes one RGBA frame.
func encodeJPEG(buf *bytes.Buffer, f textureregistry.Frame, quality int) error {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) < f.Width*f.Height*4 {
		return fmt.Errorf("invalid frame %dx%d with %d bytes", f.Width, f.Height, len(f.Pix))
	}
	img := &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
	buf.Reset()
	return jpeg.Encode(buf, img, &jpeg.Options{Quality: quality})
}

// preview streams the camera texture as multipart MJPEG until the client
// goes away or the texture is unregistered.
func (s *Server) preview(c *gin.Context) {
	id, ok := cameraID(c)
	if !ok {
		return
	}

	subscriberID := fmt.Sprintf("http-%d", streamSeq.Add(1))
	rx, err := s.frames.SubscribeLatest(id, subscriberID)
	if err != nil {
		if errors.Is(err, textureregistry.ErrTextureNotFound) {
			abortWithError(c, http.StatusNotFound, "camera_error", "Camera not created")
			return
		}
		abortWithError(c, http.StatusServiceUnavailable, "camera_error", err.Error())
		return
	}

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.frames.Unsubscribe(id, subscriberID)
		c.String(http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// Receive blocks; unsubscribing closes the receiver.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.Request.Context().Done():
		case <-done:
		}
		s.frames.Unsubscribe(id, subscriberID)
	}()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Status(http.StatusOK)

	slog.Info("httpapi: preview stream opened", "camera_id", id, "subscriber", subscriberID)

	var (
		buf    bytes.Buffer
		frames int
	)
	for {
		frame, ok := rx.Receive()
		if !ok {
			break
		}
		if err := encodeJPEG(&buf, frame, s.JPEGQuality); err != nil {
			slog.Warn("httpapi: failed to encode preview frame", "camera_id", id, "error", err)
			continue
		}

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
		if _, err := w.Write(buf.Bytes()); err != nil {
			break
		}
		fmt.Fprintf(w, "\r\n")
		flusher.Flush()
		frames++
	}

	slog.Info("httpapi: preview stream closed", "camera_id", id, "subscriber", subscriberID, "frames", frames)
}
