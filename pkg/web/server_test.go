package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-idcapture/pkg/capability"
	"github.com/teslashibe/go-idcapture/pkg/capture"
	"github.com/teslashibe/go-idcapture/pkg/orchestrator"
	"github.com/teslashibe/go-idcapture/pkg/payload"
	"github.com/teslashibe/go-idcapture/pkg/protocol"
	"github.com/teslashibe/go-idcapture/pkg/store"
	"github.com/teslashibe/go-idcapture/pkg/validation"
)

type fixture struct {
	server  *Server
	store   *store.MemoryStore
	channel *validation.Loopback
	ctrl    *orchestrator.Controller
}

func newFixture(t *testing.T, session capture.Session) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	ch := validation.NewLoopback()
	probe := capability.NewProbe(true, capability.Static(true))
	ctrl := orchestrator.NewController(session, orchestrator.Options{LiveDisplay: true}, st, ch, payload.NewBuilder(payload.DefaultConfig()), probe)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &fixture{
		server:  NewServer(":0", ctrl, st),
		store:   st,
		channel: ch,
		ctrl:    ctrl,
	}
}

func (f *fixture) do(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (f *fixture) view(t *testing.T, body []byte) orchestrator.View {
	t.Helper()
	var v orchestrator.View
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func pngData(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 0xaa
	}
	img.Set(3, 3, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestGetView(t *testing.T) {
	f := newFixture(t, capture.FaceSession())

	status, body := f.do(t, httptest.NewRequest(http.MethodGet, "/api/view", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, capture.KindFace, f.view(t, body).Kind)
}

func TestPostFileFrontDocument(t *testing.T) {
	f := newFixture(t, capture.FrontDocumentSession("passport"))

	status, body := f.do(t, multipartRequest(t, "/api/files?wait=true", "front.png", pngData(t)))
	require.Equal(t, http.StatusOK, status, string(body))

	v := f.view(t, body)
	assert.Equal(t, orchestrator.StateAwaitingValidation, v.State)
	assert.True(t, v.Uploading)

	sent := f.channel.Sent()
	require.Len(t, sent, 1)

	f.channel.Deliver(protocol.ValidationResult{ID: sent[0].ID, Valid: true})
	require.NoError(t, f.ctrl.Settle(context.Background()))

	status, body = f.do(t, httptest.NewRequest(http.MethodGet, "/api/captures/document-front", nil))
	require.Equal(t, http.StatusOK, status)
	var list capture.List
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, capture.Valid, list[0].Valid)
	assert.Equal(t, "front.png", list[0].File.Name)
}

func TestPostFileInvalidType(t *testing.T) {
	f := newFixture(t, capture.FrontDocumentSession(""))

	status, body := f.do(t, multipartRequest(t, "/api/files?wait=true", "funny.gif", []byte("GIF89a")))
	require.Equal(t, http.StatusOK, status)

	v := f.view(t, body)
	assert.Equal(t, orchestrator.StateError, v.State)
	assert.Equal(t, capture.ReasonInvalidType, v.Error)
	assert.Empty(t, f.store.Captures(capture.KindDocumentFront))
}

func TestPostFileMissingField(t *testing.T) {
	f := newFixture(t, capture.FrontDocumentSession(""))

	req := httptest.NewRequest(http.MethodPost, "/api/files", bytes.NewReader(nil))
	status, _ := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPostScreenshot(t *testing.T) {
	f := newFixture(t, capture.FaceSession())

	req := httptest.NewRequest(http.MethodPost, "/api/screenshot?wait=true", bytes.NewReader(pngData(t)))
	req.Header.Set("Content-Type", "image/png")
	status, body := f.do(t, req)
	require.Equal(t, http.StatusOK, status, string(body))

	v := f.view(t, body)
	assert.Equal(t, orchestrator.StateConfirmed, v.State)
	assert.Equal(t, orchestrator.ModeConfirmed, v.Mode)
	assert.Empty(t, f.channel.Sent())
}

func TestPostScreenshotUndecodable(t *testing.T) {
	f := newFixture(t, capture.FaceSession())

	req := httptest.NewRequest(http.MethodPost, "/api/screenshot", bytes.NewReader([]byte("nope")))
	status, _ := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPutSessionPreset(t *testing.T) {
	f := newFixture(t, capture.FrontDocumentSession("passport"))

	req := httptest.NewRequest(http.MethodPut, "/api/session?preset=back&document_type=passport&wait=true", nil)
	status, body := f.do(t, req)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, capture.KindDocumentBack, f.view(t, body).Kind)
	assert.Equal(t, store.Current{Kind: capture.KindDocumentBack, Side: capture.SideBack}, f.store.Current())
}

func TestPutSessionBody(t *testing.T) {
	f := newFixture(t, capture.FrontDocumentSession(""))

	req := httptest.NewRequest(http.MethodPut, "/api/session?wait=true", bytes.NewReader([]byte(`{"method":"face","useWebcam":true}`)))
	req.Header.Set("Content-Type", "application/json")
	status, body := f.do(t, req)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, capture.KindFace, f.view(t, body).Kind)

	for _, bad := range []string{`{"method":"selfie"}`, `{"method":"document","side":"left"}`} {
		req = httptest.NewRequest(http.MethodPut, "/api/session", bytes.NewReader([]byte(bad)))
		req.Header.Set("Content-Type", "application/json")
		status, _ = f.do(t, req)
		assert.Equal(t, http.StatusBadRequest, status, bad)
	}
	assert.Equal(t, capture.KindFace, f.ctrl.Session().Kind(), "rejected sessions leave the active one")
}

func TestFallbackAndDelete(t *testing.T) {
	f := newFixture(t, capture.FaceSession())

	req := httptest.NewRequest(http.MethodPost, "/api/screenshot?wait=true", bytes.NewReader(pngData(t)))
	_, _ = f.do(t, req)
	require.Len(t, f.store.Captures(capture.KindFace), 1)

	status, body := f.do(t, multipartRequest(t, "/api/fallback?wait=true", "selfie.png", pngData(t)))
	require.Equal(t, http.StatusOK, status, string(body))
	v := f.view(t, body)
	assert.False(t, v.UseCapture)
	require.Len(t, v.Captures, 1)
	assert.Equal(t, "selfie.png", v.Captures[0].File.Name)

	status, body = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/captures?wait=true", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, f.view(t, body).Captures)
	assert.Empty(t, f.store.Captures(capture.KindFace))
}

func TestCapturesBadKind(t *testing.T) {
	f := newFixture(t, capture.FaceSession())
	status, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/api/captures/selfie", nil))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCameraSnapshot(t *testing.T) {
	f := newFixture(t, capture.FaceSession())

	status, _ := f.do(t, httptest.NewRequest(http.MethodPost, "/api/camera/snapshot", nil))
	assert.Equal(t, http.StatusNotImplemented, status)

	f.server.OnCaptureFrame = func() (image.Image, error) {
		return nil, errors.New("camera busy")
	}
	status, _ = f.do(t, httptest.NewRequest(http.MethodPost, "/api/camera/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, status)

	f.server.OnCaptureFrame = func() (image.Image, error) {
		img, _, err := image.Decode(bytes.NewReader(pngData(t)))
		return img, err
	}
	status, body := f.do(t, httptest.NewRequest(http.MethodPost, "/api/camera/snapshot?wait=true", nil))
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, orchestrator.StateConfirmed, f.view(t, body).State)
}

func TestViewsBroadcast(t *testing.T) {
	f := newFixture(t, capture.FaceSession())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.Views().Run(ctx)

	req := httptest.NewRequest(http.MethodPost, "/api/user-media?wait=true", nil)
	status, _ := f.do(t, req)
	require.Equal(t, http.StatusOK, status)

	deadline := time.Now().Add(2 * time.Second)
	for {
		var v orchestrator.View
		if last := f.server.Views().Last(); last != nil {
			require.NoError(t, json.Unmarshal(last, &v))
			if v.UseCapture {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("the camera view was not broadcast")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t, capture.FaceSession())
	status, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/ws/view", nil))
	assert.Equal(t, http.StatusUpgradeRequired, status)
}
