// Package routers wires the admin HTTP server: health, metrics and model
// status for the process serving inference sessions.
package routers

import (
	"net/http"

	"edge-infer/internal/ctx"
	"edge-infer/internal/inference"
	"edge-infer/internal/middleware"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type StatusSource interface {
	Status() inference.Status
}

type AdminConfig struct {
	MetricsAPIKey string
}

type statusDoc struct {
	ModelInitialized bool   `json:"model_initialized"`
	Task             string `json:"task"`
	InputElements    int    `json:"input_elements"`
	ArenaUsed        int    `json:"arena_used"`
	ArenaCapacity    int    `json:"arena_capacity"`
	HeapFree         uint64 `json:"heap_free"`
}

type adminRouter struct {
	status   StatusSource
	heapFree func() uint64
}

func NewAdminServer(status StatusSource, cfg AdminConfig, heapFree func() uint64, log *zap.SugaredLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	ar := &adminRouter{status: status, heapFree: heapFree}
	e.GET("/ping", func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.RequireAPIKey(cfg.MetricsAPIKey))

	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))
	base.GET("/status", ar.getStatus)
	return e
}

func (ar *adminRouter) getStatus(cc echo.Context) error {
	c := cc.(*ctx.Context)
	st := ar.status.Status()
	doc := statusDoc{
		ModelInitialized: st.Initialized,
		Task:             string(st.Task),
		InputElements:    st.InputElements,
		ArenaUsed:        st.ArenaUsed,
		ArenaCapacity:    st.ArenaCapacity,
		HeapFree:         ar.heapFree(),
	}
	if !st.Initialized {
		c.Log.Warnw("Status requested while model not initialized")
		return c.JSON(http.StatusServiceUnavailable, doc)
	}
	return c.JSON(http.StatusOK, doc)
}
