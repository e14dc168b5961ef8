package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"muffin/internal/camera"
	"muffin/internal/platform"
	"muffin/internal/render"
	"muffin/internal/task"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	platform   *platform.Platform
	engine     *gin.Engine
	httpServer *http.Server

	mu        sync.Mutex
	cameras   map[uuid.UUID]*camera.DeviceHandle
	renderers map[uuid.UUID]*render.Context
	tasks     map[uuid.UUID]*task.Runnable
	listener  net.Listener
}

// New は新しいServerインスタンスを作成する
func New(p *platform.Platform) *Server {
	cfg := p.Config()
	if !cfg.Log.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.Log.Verbose {
		engine.Use(gin.Logger())
	}

	s := &Server{
		platform:  p,
		engine:    engine,
		cameras:   make(map[uuid.UUID]*camera.DeviceHandle),
		renderers: make(map[uuid.UUID]*render.Context),
		tasks:     make(map[uuid.UUID]*task.Runnable),
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout.Std(),
			WriteTimeout: cfg.Server.WriteTimeout.Std(),
		},
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)

	cameras := api.Group("/cameras")
	cameras.GET("", s.handleListCameras)
	cameras.GET("/:id", s.handleGetCamera)
	cameras.POST("/:id/open", s.handleCameraOpen)
	cameras.POST("/:id/repeat", s.handleCameraRepeat)
	cameras.POST("/:id/stop-repeat", s.handleCameraStopRepeat)
	cameras.POST("/:id/capture", s.handleCameraCapture)
	cameras.POST("/:id/stop-capture", s.handleCameraStopCapture)
	cameras.POST("/:id/close", s.handleCameraClose)

	api.GET("/display", s.handleDisplay)
	api.GET("/display/extensions/:name", s.handleHasExtension)

	renderers := api.Group("/renderers")
	renderers.GET("", s.handleListRenderers)
	renderers.POST("", s.handleCreateRenderer)
	renderers.POST("/:id/resume", s.handleRendererResume)
	renderers.POST("/:id/suspend", s.handleRendererSuspend)
	renderers.POST("/:id/present", s.handleRendererPresent)
	renderers.DELETE("/:id", s.handleDeleteRenderer)

	compass := api.Group("/compass")
	compass.GET("", s.handleCompass)
	compass.POST("/resume", s.handleCompassResume)
	compass.POST("/pause", s.handleCompassPause)
	compass.POST("/update", s.handleCompassUpdate)

	tasks := api.Group("/tasks")
	tasks.POST("", s.handleCreateTask)
	tasks.POST("/:id/tick", s.handleTickTask)
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Addr はリッスン中のアドレスを返す。起動前は設定値
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	log.Println("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}
