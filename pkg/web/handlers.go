package web

import (
	"errors"
	"image"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-idcapture/pkg/capture"
	"github.com/teslashibe/go-idcapture/pkg/orchestrator"
)

// errorJSON writes {"error": msg} with status.
func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// accepted answers a queued request. With ?wait=true the request is
// applied before the view is returned.
func (s *Server) accepted(c *fiber.Ctx) error {
	if c.QueryBool("wait") {
		if err := s.ctrl.Settle(c.UserContext()); err != nil {
			return s.controllerError(c, err)
		}
		return c.JSON(s.ctrl.View())
	}
	return c.Status(fiber.StatusAccepted).JSON(s.ctrl.View())
}

func (s *Server) controllerError(c *fiber.Ctx, err error) error {
	if errors.Is(err, orchestrator.ErrStopped) {
		return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
	}
	return errorJSON(c, fiber.StatusInternalServerError, err.Error())
}

func (s *Server) handleView(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.View())
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Session())
}

// handlePutSession replaces the session. A preset query (front, back, face)
// selects the screen defaults; otherwise the body is the session.
func (s *Server) handlePutSession(c *fiber.Ctx) error {
	var session capture.Session
	switch preset := c.Query("preset"); preset {
	case "front":
		session = capture.FrontDocumentSession(c.Query("document_type"))
	case "back":
		session = capture.BackDocumentSession(c.Query("document_type"))
	case "face":
		session = capture.FaceSession()
	case "":
		if err := c.BodyParser(&session); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid session: "+err.Error())
		}
	default:
		return errorJSON(c, fiber.StatusBadRequest, "unknown preset: "+preset)
	}

	if err := session.Validate(); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if err := s.ctrl.SetSession(c.UserContext(), session); err != nil {
		return s.controllerError(c, err)
	}
	return s.accepted(c)
}

func (s *Server) handleCaptures(c *fiber.Ctx) error {
	kind, err := capture.ParseKind(c.Params("kind"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	list := s.store.Captures(kind)
	if list == nil {
		list = capture.List{}
	}
	return c.JSON(list)
}

func (s *Server) handleDeleteCaptures(c *fiber.Ctx) error {
	if err := s.ctrl.DeleteCaptures(c.UserContext()); err != nil {
		return s.controllerError(c, err)
	}
	return s.accepted(c)
}

// handleScreenshot takes an encoded frame as the request body. An empty
// body is forwarded as a missing frame, which the controller drops.
func (s *Server) handleScreenshot(c *fiber.Ctx) error {
	body := c.Body()

	var frame image.Image
	if len(body) > 0 {
		img, err := s.Decode(body)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "undecodable frame: "+err.Error())
		}
		frame = img
	}

	if err := s.ctrl.Screenshot(c.UserContext(), frame); err != nil {
		return s.controllerError(c, err)
	}
	return s.accepted(c)
}

func (s *Server) handleFile(c *fiber.Ctx) error {
	f, err := formFile(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if err := s.ctrl.SelectFile(c.UserContext(), f); err != nil {
		return s.controllerError(c, err)
	}
	return s.accepted(c)
}

func (s *Server) handleFallback(c *fiber.Ctx) error {
	f, err := formFile(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if err := s.ctrl.UploadFallback(c.UserContext(), f); err != nil {
		return s.controllerError(c, err)
	}
	return s.accepted(c)
}

func (s *Server) handleUserMedia(c *fiber.Ctx) error {
	if err := s.ctrl.UserMediaStarted(c.UserContext()); err != nil {
		return s.controllerError(c, err)
	}
	return s.accepted(c)
}

func (s *Server) handleCameraSnapshot(c *fiber.Ctx) error {
	if s.OnCaptureFrame == nil {
		return errorJSON(c, fiber.StatusNotImplemented, "no local camera configured")
	}
	frame, err := s.OnCaptureFrame()
	if err != nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
	}
	if err := s.ctrl.Screenshot(c.UserContext(), frame); err != nil {
		return s.controllerError(c, err)
	}
	return s.accepted(c)
}

func (s *Server) handleViewWS(conn *websocket.Conn) {
	if err := s.views.Serve(conn); err != nil {
		s.logger.Debug("view subscriber rejected", "error", err)
	}
}

// formFile reads the multipart "file" field.
func formFile(c *fiber.Ctx) (capture.File, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return capture.File{}, errors.New("missing file field")
	}
	src, err := fh.Open()
	if err != nil {
		return capture.File{}, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return capture.File{}, err
	}
	return capture.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Data:        data,
	}, nil
}
