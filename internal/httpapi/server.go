// Package httpapi serves camera listings, still captures and an MJPEG
// preview of every camera texture.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	capturecontroller "github.com/e7canasta/orion-care-sensor/modules/capture-controller"
	textureregistry "github.com/e7canasta/orion-care-sensor/modules/texture-registry"

	"github.com/e7canasta/orion-care-sensor/internal/cameras"
)

// Cameras is the camera surface used by the API. It is implemented by
// *cameras.Manager.
type Cameras interface {
	Devices() ([]string, error)
	List() []cameras.Info
	TakePicture(id int64, done capturecontroller.ResultFunc)
}

// Frames gives access to preview frames. It is implemented by
// *textureregistry.Registry.
type Frames interface {
	SubscribeLatest(id int64, subscriberID string) (textureregistry.Receiver, error)
	Unsubscribe(id int64, subscriberID string) error
}

var (
	_ Cameras = (*cameras.Manager)(nil)
	_ Frames  = (*textureregistry.Registry)(nil)
)

// Server is the HTTP API.
type Server struct {
	cams   Cameras
	frames Frames
	router *gin.Engine
	srv    *http.Server

	// PictureTimeout bounds POST /cameras/:id/picture.
	PictureTimeout time.Duration

	// JPEGQuality is used for preview frames.
	JPEGQuality int
}

// NewServer builds the router. Call Start to listen on addr.
func NewServer(addr string, cams Cameras, frames Frames) *Server {
	s := &Server{
		cams:           cams,
		frames:         frames,
		router:         gin.New(),
		PictureTimeout: 10 * time.Second,
		JPEGQuality:    80,
	}
	s.router.Use(gin.Recovery(), requestLogger())

	s.router.GET("/healthz", s.health)
	s.router.GET("/cameras", s.listCameras)
	s.router.GET("/cameras/available", s.availableCameras)
	s.router.GET("/cameras/:id/preview.mjpeg", s.preview)
	s.router.POST("/cameras/:id/picture", s.takePicture)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens in the background. Listen errors other than a clean
// shutdown are logged.
func (s *Server) Start() {
	go func() {
		slog.Info("httpapi: listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("httpapi: server failed", "error", err)
		}
	}()
}

// Shutdown stops the server. Open preview streams end with their request
// context.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}

// requestLogger logs every request through slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("httpapi: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: message})
}

func cameraID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		abortWithError(c, http.StatusBadRequest, "invalid_params", "camera id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"cameras":   len(s.cams.List()),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) listCameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cameras": s.cams.List()})
}

func (s *Server) availableCameras(c *gin.Context) {
	devices, err := s.cams.Devices()
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, string(cameras.CodeSystemError), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// statusFor maps camera error codes to HTTP statuses.
func statusFor(err *capturecontroller.Error) int {
	switch {
	case err == cameras.ErrCameraNotFound:
		return http.StatusNotFound
	case err.Code == capturecontroller.CodeAccessDenied:
		return http.StatusForbidden
	case err.Code == capturecontroller.CodeError, err.Code == cameras.CodeSystemError:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func (s *Server) takePicture(c *gin.Context) {
	id, ok := cameraID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.PictureTimeout)
	defer cancel()

	results := make(chan capturecontroller.Result, 1)
	s.cams.TakePicture(id, func(r capturecontroller.Result) {
		results <- r
	})

	select {
	case r := <-results:
		if r.Err != nil {
			abortWithError(c, statusFor(r.Err), string(r.Err.Code), r.Err.Message)
			return
		}
		c.JSON(http.StatusOK, gin.H{"camera_id": id, "path": r.Path})
	case <-ctx.Done():
		// The capture still completes and is saved; only the wait ends.
		abortWithError(c, http.StatusGatewayTimeout, "timeout", "picture not completed in time")
	}
}
