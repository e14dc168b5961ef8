package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"muffin/internal/camera"
	"muffin/internal/handle"
	"muffin/internal/render"
	"muffin/internal/sensor"
	"muffin/internal/status"
	"muffin/internal/surface"
	"muffin/internal/task"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CodeResponse は操作結果のレスポンス
type CodeResponse struct {
	Code   int    `json:"code"`
	Status string `json:"status"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string    `json:"status"`
	Cameras   int       `json:"cameras"`
	Renderers int       `json:"renderers"`
	Compass   string    `json:"compass"`
	Tasks     int       `json:"tasks"`
	Timestamp time.Time `json:"timestamp"`
}

// CameraInfo はカメラの状態
type CameraInfo struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	Facing string `json:"facing"`
	State  string `json:"state"`
	Mode   string `json:"mode"`
	Target string `json:"target,omitempty"`

	// 推奨する最大の解像度。不明な場合は 0
	PreferredSize camera.Size `json:"preferred_size"`
}

// RendererInfo は描画コンテキストの状態
type RendererInfo struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Target string `json:"target,omitempty"`
	Frames int    `json:"frames"`
}

// DisplayInfo はディスプレイの情報
type DisplayInfo struct {
	Version    string          `json:"version"`
	Extensions []string        `json:"extensions"`
	Features   render.Features `json:"features"`
}

// CompassInfo はコンパスの状態
type CompassInfo struct {
	Name    string         `json:"name"`
	State   string         `json:"state"`
	Reading sensor.Reading `json:"reading"`
}

// SurfaceRequest は出力先の指定
type SurfaceRequest struct {
	Format    string `json:"format"`
	Width     int    `json:"width" binding:"required,min=1"`
	Height    int    `json:"height" binding:"required,min=1"`
	Offscreen bool   `json:"offscreen"`
}

// TaskRequest は周期タスクの作成リクエスト
type TaskRequest struct {
	DurationMS int `json:"duration_ms" binding:"min=0"`
	IntervalMS int `json:"interval_ms" binding:"required,min=1"`
}

// TaskResponse は周期タスクの状態
type TaskResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Finished bool   `json:"finished"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// handleStatus はシステム状態取得エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	p := s.platform
	state, err := p.Compass.State()
	compass := string(state)
	if err != nil {
		compass = "closed"
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status:    "running",
		Cameras:   p.Cameras.GetDeviceCount(c.Request.Context()),
		Renderers: len(p.Renderers()),
		Compass:   compass,
		Tasks:     p.Tasks.Live(),
		Timestamp: time.Now(),
	})
}

// カメラ

// syncCameras はデバイスにIDを割り当てる。割り当て済みのIDは変わらない
func (s *Server) syncCameras(c *gin.Context) []*camera.DeviceHandle {
	devices := s.platform.Cameras.GetDevices(c.Request.Context())

	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[handle.Handle]bool, len(s.cameras))
	for _, d := range s.cameras {
		known[d.ID()] = true
	}
	for _, d := range devices {
		if !known[d.ID()] {
			s.cameras[uuid.New()] = d
		}
	}
	return devices
}

func (s *Server) cameraID(d *camera.DeviceHandle) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, known := range s.cameras {
		if known.ID() == d.ID() {
			return id
		}
	}
	return uuid.Nil
}

func (s *Server) lookupCamera(c *gin.Context) (*camera.DeviceHandle, bool) {
	s.syncCameras(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", "IDの形式が不正です")
		return nil, false
	}

	s.mu.Lock()
	d, ok := s.cameras[id]
	s.mu.Unlock()
	if !ok {
		respondError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
		return nil, false
	}
	return d, true
}

func (s *Server) cameraInfo(c *gin.Context, d *camera.DeviceHandle) (CameraInfo, error) {
	info, err := d.Info(c.Request.Context())
	if err != nil {
		return CameraInfo{}, err
	}

	size, err := d.PreferredSize()
	if err != nil {
		return CameraInfo{}, err
	}

	out := CameraInfo{
		ID:            s.cameraID(d).String(),
		Index:         info.Index,
		Facing:        info.Facing.String(),
		State:         string(info.State),
		Mode:          string(info.Mode),
		PreferredSize: size,
	}
	if info.Target.Valid() {
		out.Target = info.Target.String()
	}
	return out, nil
}

// handleListCameras はカメラ一覧取得エンドポイント
func (s *Server) handleListCameras(c *gin.Context) {
	devices := s.syncCameras(c)

	cameras := make([]CameraInfo, 0, len(devices))
	for _, d := range devices {
		info, err := s.cameraInfo(c, d)
		if err != nil {
			respondErr(c, err)
			return
		}
		cameras = append(cameras, info)
	}

	c.JSON(http.StatusOK, gin.H{"cameras": cameras})
}

// handleGetCamera はカメラの状態取得エンドポイント
func (s *Server) handleGetCamera(c *gin.Context) {
	d, ok := s.lookupCamera(c)
	if !ok {
		return
	}
	info, err := s.cameraInfo(c, d)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) cameraOp(c *gin.Context, op func(*camera.DeviceHandle) error) {
	d, ok := s.lookupCamera(c)
	if !ok {
		return
	}
	respondCode(c, status.Of(op(d)))
}

func (s *Server) handleCameraOpen(c *gin.Context) {
	s.cameraOp(c, func(d *camera.DeviceHandle) error { return d.Open(c.Request.Context()) })
}

func (s *Server) handleCameraRepeat(c *gin.Context) {
	target, ok := bindSurface(c, s.platform.Config().Camera.DefaultFormat)
	if !ok {
		return
	}
	s.cameraOp(c, func(d *camera.DeviceHandle) error { return d.Repeat(c.Request.Context(), target) })
}

func (s *Server) handleCameraStopRepeat(c *gin.Context) {
	s.cameraOp(c, func(d *camera.DeviceHandle) error { return d.StopRepeat(c.Request.Context()) })
}

func (s *Server) handleCameraCapture(c *gin.Context) {
	target, ok := bindSurface(c, "JPEG")
	if !ok {
		return
	}
	s.cameraOp(c, func(d *camera.DeviceHandle) error { return d.Capture(c.Request.Context(), target) })
}

func (s *Server) handleCameraStopCapture(c *gin.Context) {
	s.cameraOp(c, func(d *camera.DeviceHandle) error { return d.StopCapture(c.Request.Context()) })
}

func (s *Server) handleCameraClose(c *gin.Context) {
	s.cameraOp(c, func(d *camera.DeviceHandle) error { return d.Close(c.Request.Context()) })
}

// ディスプレイ

// handleDisplay はディスプレイ情報取得エンドポイント
func (s *Server) handleDisplay(c *gin.Context) {
	d := s.platform.Display
	major, minor := d.Version()
	c.JSON(http.StatusOK, DisplayInfo{
		Version:    formatVersion(major, minor),
		Extensions: d.Extensions(),
		Features:   d.Features(),
	})
}

// handleHasExtension は拡張機能の対応確認エンドポイント
func (s *Server) handleHasExtension(c *gin.Context) {
	name := c.Param("name")
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"supported": s.platform.Display.HasExtension(name),
	})
}

// 描画コンテキスト

func (s *Server) lookupRenderer(c *gin.Context) (uuid.UUID, *render.Context, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", "IDの形式が不正です")
		return uuid.Nil, nil, false
	}

	s.mu.Lock()
	rc, ok := s.renderers[id]
	s.mu.Unlock()
	if !ok {
		respondError(c, http.StatusNotFound, "renderer_not_found", "指定された描画コンテキストが見つかりません")
		return id, nil, false
	}
	return id, rc, true
}

// handleListRenderers は描画コンテキスト一覧取得エンドポイント
func (s *Server) handleListRenderers(c *gin.Context) {
	s.mu.Lock()
	snapshot := make(map[uuid.UUID]*render.Context, len(s.renderers))
	for id, rc := range s.renderers {
		snapshot[id] = rc
	}
	s.mu.Unlock()

	renderers := make([]RendererInfo, 0, len(snapshot))
	for _, rc := range s.platform.Renderers() {
		for id, known := range snapshot {
			if known != rc {
				continue
			}
			info, err := rc.Info(c.Request.Context())
			if err != nil {
				continue
			}
			out := RendererInfo{ID: id.String(), State: string(info.State), Frames: info.Frames}
			if info.Bound.Valid() {
				out.Target = info.Bound.String()
			}
			renderers = append(renderers, out)
		}
	}

	c.JSON(http.StatusOK, gin.H{"renderers": renderers})
}

// handleCreateRenderer は描画コンテキスト作成エンドポイント
func (s *Server) handleCreateRenderer(c *gin.Context) {
	rc, err := s.platform.NewRenderer(c.Request.Context(), nil)
	if err != nil {
		respondErr(c, err)
		return
	}

	id := uuid.New()
	s.mu.Lock()
	s.renderers[id] = rc
	s.mu.Unlock()

	c.JSON(http.StatusCreated, RendererInfo{ID: id.String(), State: string(render.StateCreated)})
}

func (s *Server) handleRendererResume(c *gin.Context) {
	target, ok := bindSurface(c, "RGBA_8888")
	if !ok {
		return
	}
	if _, rc, ok := s.lookupRenderer(c); ok {
		respondCode(c, rc.Resume(c.Request.Context(), target))
	}
}

func (s *Server) handleRendererSuspend(c *gin.Context) {
	if _, rc, ok := s.lookupRenderer(c); ok {
		respondCode(c, rc.Suspend(c.Request.Context()))
	}
}

func (s *Server) handleRendererPresent(c *gin.Context) {
	if _, rc, ok := s.lookupRenderer(c); ok {
		respondCode(c, rc.Present(c.Request.Context()))
	}
}

// handleDeleteRenderer は描画コンテキスト破棄エンドポイント
func (s *Server) handleDeleteRenderer(c *gin.Context) {
	id, rc, ok := s.lookupRenderer(c)
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.renderers, id)
	s.mu.Unlock()

	if err := s.platform.CloseRenderer(c.Request.Context(), rc); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// コンパス

// handleCompass はコンパスの状態取得エンドポイント
func (s *Server) handleCompass(c *gin.Context) {
	compass := s.platform.Compass
	state, err := compass.State()
	if err != nil {
		respondErr(c, err)
		return
	}
	reading, err := compass.Reading()
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, CompassInfo{Name: compass.Name(), State: string(state), Reading: reading})
}

func (s *Server) handleCompassResume(c *gin.Context) {
	respondCode(c, s.platform.Compass.Resume())
}

func (s *Server) handleCompassPause(c *gin.Context) {
	respondCode(c, s.platform.Compass.Pause())
}

func (s *Server) handleCompassUpdate(c *gin.Context) {
	respondCode(c, s.platform.Compass.Update())
}

// 周期タスク

// handleCreateTask は周期タスク作成エンドポイント
func (s *Server) handleCreateTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		details := err.Error()
		respondErrorDetails(c, http.StatusBadRequest, "invalid_request", "リクエストが不正です", &details)
		return
	}

	t, err := task.New(time.Duration(req.DurationMS)*time.Millisecond, time.Duration(req.IntervalMS)*time.Millisecond)
	if err != nil {
		respondErr(c, err)
		return
	}

	id := uuid.New()
	r := s.platform.Tasks.NewRunnable(t)
	s.mu.Lock()
	s.tasks[id] = r
	s.mu.Unlock()

	c.JSON(http.StatusCreated, TaskResponse{ID: id.String(), Status: task.Continue.String()})
}

// handleTickTask は周期タスクを一回進める
func (s *Server) handleTickTask(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", "IDの形式が不正です")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tasks[id]
	if !ok {
		respondError(c, http.StatusNotFound, "task_not_found", "指定されたタスクが見つかりません")
		return
	}

	// 完了済みのタスクに対しては何もしない
	r.Run()
	st := task.Continue
	if r.Finished() {
		st = task.Done
	}
	c.JSON(http.StatusOK, TaskResponse{ID: id.String(), Status: st.String(), Finished: r.Finished()})
}

// ヘルパー関数

// bindSurface はリクエストから出力先を作成する。format が省略された場合は def を使う
func bindSurface(c *gin.Context, def string) (surface.Surface, bool) {
	var req SurfaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		details := err.Error()
		respondErrorDetails(c, http.StatusBadRequest, "invalid_request", "リクエストが不正です", &details)
		return surface.Surface{}, false
	}

	if req.Offscreen {
		return surface.Offscreen(req.Width, req.Height), true
	}

	name := req.Format
	if name == "" {
		name = def
	}
	format, err := surface.ParseFormat(name)
	if err != nil {
		details := err.Error()
		respondErrorDetails(c, http.StatusBadRequest, "invalid_format", "ピクセルフォーマットが不正です", &details)
		return surface.Surface{}, false
	}
	return surface.New(format, req.Width, req.Height), true
}

// httpStatus はステータスコードに対応するHTTPステータスを返す
func httpStatus(code status.Code) int {
	switch code {
	case status.OK:
		return http.StatusOK
	case status.NotSupported, status.BadConfig:
		return http.StatusUnprocessableEntity
	case status.Busy, status.BadAccess:
		return http.StatusConflict
	case status.NoDevice:
		return http.StatusNotFound
	case status.Invalid, status.BadSurface, status.NotInitialized:
		return http.StatusBadRequest
	case status.NotPermitted:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func respondCode(c *gin.Context, code status.Code) {
	c.JSON(httpStatus(code), CodeResponse{Code: int(code), Status: code.String()})
}

func respondErr(c *gin.Context, err error) {
	code := status.Of(err)
	kind := "internal_error"
	httpCode := 0
	switch {
	case errors.Is(err, status.ErrCreationFailure):
		kind = "creation_failure"
	case errors.Is(err, status.ErrClosed):
		kind = "closed"
		code = status.NotInitialized
	case errors.Is(err, status.ErrNotFound), errors.Is(err, status.ErrDoubleRelease):
		kind = "released"
		httpCode = http.StatusGone
	}
	if httpCode == 0 {
		httpCode = httpStatus(code)
	}
	respondError(c, httpCode, kind, err.Error())
}

func respondError(c *gin.Context, httpCode int, kind, message string) {
	respondErrorDetails(c, httpCode, kind, message, nil)
}

func respondErrorDetails(c *gin.Context, httpCode int, kind, message string, details *string) {
	c.JSON(httpCode, ErrorResponse{
		Error:     kind,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	})
}

func formatVersion(major, minor int) string {
	return fmt.Sprintf("EGL %d.%d", major, minor)
}
