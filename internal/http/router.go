package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Router chi 路由封装
type Router struct {
	mux    *chi.Mux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(requestLogger(logger))
	mux.Use(middleware.Recoverer)
	mux.Use(allowCORS)

	return &Router{
		mux:    mux,
		logger: logger,
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterGatewayRoutes 注册网关路由
func (r *Router) RegisterGatewayRoutes(h *GatewayHandler) {
	r.mux.Get("/", h.Status)

	r.mux.Route("/api/v1", func(api chi.Router) {
		api.Get("/clients", h.ListClients)
		api.Post("/locations", h.CreateLocation)
		api.Post("/speech", h.CreateSpeech)
		api.Post("/camera", h.RaiseCameraAlert)

		api.Route("/data", func(data chi.Router) {
			data.Get("/", h.GetData)
			data.Get("/joined", h.GetJoinedData)
			data.Get("/latest", h.GetLatestData)
			data.Get("/export", h.ExportData)
		})
	})
}

// RegisterWebsocket 挂载 websocket 入口
func (r *Router) RegisterWebsocket(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

// requestLogger 使用 zap 记录请求
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// allowCORS 允许任意来源（前端与设备直接调用）
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
