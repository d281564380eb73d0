package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/internal/cache"
	"github.com/mandrindraa/bbe-my-eyes/internal/models"
	"github.com/mandrindraa/bbe-my-eyes/internal/reconciler"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// DataReconciler 融合查询
type DataReconciler interface {
	ReconcilePositional(ctx context.Context, limit int) ([]*models.PairedRecord, error)
	ReconcileByIdentity(ctx context.Context, limit int) ([]*models.PairedRecord, error)
	Latest(ctx context.Context) (*models.PairedRecord, error)
}

// LatestReader 最新融合视图缓存
type LatestReader interface {
	GetLatest(ctx context.Context) (*models.PairedRecord, error)
}

// LocationIngestor 定位写入（先落库再推送）
type LocationIngestor interface {
	IngestPosition(ctx context.Context, rec *models.PositionRecord, excludeID string) (*models.PositionRecord, error)
}

// MessageWriter 消息写入
type MessageWriter interface {
	InsertMessage(ctx context.Context, text string) (int64, error)
}

// ClientHub 推送 Hub（*hub.Hub）
type ClientHub interface {
	Snapshot() []models.ConnectionInfo
	ClientCount() int
	BroadcastTextMessage(id int64, text string) int
	RaiseAlert(alert models.CameraAlert, excludeID string) int
}

// GatewayHandler 网关 HTTP 接口
type GatewayHandler struct {
	reconciler DataReconciler
	cache      LatestReader
	ingestor   LocationIngestor
	messages   MessageWriter
	hub        ClientHub
	mqttStatus func() bool
	logger     *zap.Logger
}

// NewGatewayHandler 创建处理器；cache、mqttStatus 可为 nil
func NewGatewayHandler(
	rec DataReconciler,
	latest LatestReader,
	ingestor LocationIngestor,
	messages MessageWriter,
	h ClientHub,
	mqttStatus func() bool,
	logger *zap.Logger,
) *GatewayHandler {
	return &GatewayHandler{
		reconciler: rec,
		cache:      latest,
		ingestor:   ingestor,
		messages:   messages,
		hub:        h,
		mqttStatus: mqttStatus,
		logger:     logger,
	}
}

// Status GET /
func (h *GatewayHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := "disconnected"
	if h.mqttStatus != nil && h.mqttStatus() {
		status = "connected"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":           "Welcome to Be My Eyes API",
		"mqtt_status":       status,
		"websocket_clients": h.hub.ClientCount(),
	})
}

// ListClients GET /api/v1/clients
func (h *GatewayHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients := h.hub.Snapshot()
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"clients": clients,
		"total":   len(clients),
	}))
}

type createLocationRequest struct {
	Long *float64 `json:"long"`
	Lat  *float64 `json:"lat"`
	Addr *string  `json:"addr"`
}

// CreateLocation POST /api/v1/locations
func (h *GatewayHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	if req.Long == nil || req.Lat == nil {
		writeJSON(w, http.StatusBadRequest, Fail("long and lat are required"))
		return
	}

	rec := &models.PositionRecord{
		Longitude: *req.Long,
		Latitude:  *req.Lat,
		Address:   req.Addr,
		Timestamp: time.Now().UnixMilli(),
	}
	stored, err := h.ingestor.IngestPosition(r.Context(), rec, "")
	if err != nil {
		h.logger.Error("CreateLocation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to create location: %v", err)))
		return
	}

	writeJSON(w, http.StatusCreated, OkMessage("Location created successfully", map[string]any{
		"id":        stored.ID,
		"timestamp": stored.Timestamp,
	}))
}

// GetData GET /api/v1/data?limit=N（按下标配对）
func (h *GatewayHandler) GetData(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), reconciler.DefaultLimit)
	pairs, err := h.reconciler.ReconcilePositional(r.Context(), limit)
	if err != nil {
		h.logger.Error("ReconcilePositional failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to query data: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(pairs))
}

// GetJoinedData GET /api/v1/data/joined?limit=N（按 id 关联）
func (h *GatewayHandler) GetJoinedData(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), reconciler.DefaultLimit)
	pairs, err := h.reconciler.ReconcileByIdentity(r.Context(), limit)
	if err != nil {
		h.logger.Error("ReconcileByIdentity failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to query data: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(pairs))
}

// GetLatestData GET /api/v1/data/latest（优先读缓存）
func (h *GatewayHandler) GetLatestData(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		paired, err := h.cache.GetLatest(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, Ok(paired))
			return
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Warn("Latest data cache read failed", zap.Error(err))
		}
	}

	paired, err := h.reconciler.Latest(r.Context())
	if err != nil {
		h.logger.Error("Latest failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to query latest data: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(paired))
}

// ExportData GET /api/v1/data/export?limit=N
func (h *GatewayHandler) ExportData(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), reconciler.DefaultLimit)
	pairs, err := h.reconciler.ReconcilePositional(r.Context(), limit)
	if err != nil {
		h.logger.Error("ReconcilePositional failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to query data: %v", err)))
		return
	}

	excelData, err := GenerateDataExport(pairs)
	if err != nil {
		h.logger.Error("GenerateDataExport failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to generate export: %v", err)))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=bbe-data-export.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(excelData)
}

type speechRequest struct {
	Text string `json:"text"`
}

// CreateSpeech POST /api/v1/speech
func (h *GatewayHandler) CreateSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, Fail("Message is required"))
		return
	}

	id, err := h.messages.InsertMessage(r.Context(), text)
	if err != nil {
		h.logger.Error("InsertMessage failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(fmt.Sprintf("failed to save message: %v", err)))
		return
	}

	clientCount := h.hub.BroadcastTextMessage(id, text)
	writeJSON(w, http.StatusOK, OkMessage("Message broadcasted", map[string]any{
		"id":          id,
		"clientCount": clientCount,
	}))
}

// RaiseCameraAlert POST /api/v1/camera
func (h *GatewayHandler) RaiseCameraAlert(w http.ResponseWriter, r *http.Request) {
	var alert models.CameraAlert
	if err := readBodyJSON(r, maxBodyBytes, &alert); err != nil {
		writeBodyError(w, err)
		return
	}

	sent := h.hub.RaiseAlert(alert, "")
	writeJSON(w, http.StatusAccepted, Ok(map[string]any{
		"actionable": alert.Actionable(),
		"sent":       sent,
	}))
}
