package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/internal/cache"
	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type fakeReconciler struct {
	positional []*models.PairedRecord
	joined     []*models.PairedRecord
	latest     *models.PairedRecord
	err        error
	lastLimit  int
	latestHits int
}

func (f *fakeReconciler) ReconcilePositional(_ context.Context, limit int) ([]*models.PairedRecord, error) {
	f.lastLimit = limit
	return f.positional, f.err
}

func (f *fakeReconciler) ReconcileByIdentity(_ context.Context, limit int) ([]*models.PairedRecord, error) {
	f.lastLimit = limit
	return f.joined, f.err
}

func (f *fakeReconciler) Latest(context.Context) (*models.PairedRecord, error) {
	f.latestHits++
	return f.latest, f.err
}

type fakeLatestCache struct {
	paired *models.PairedRecord
	err    error
}

func (f *fakeLatestCache) GetLatest(context.Context) (*models.PairedRecord, error) {
	return f.paired, f.err
}

type fakeIngestor struct {
	got *models.PositionRecord
	err error
}

func (f *fakeIngestor) IngestPosition(_ context.Context, rec *models.PositionRecord, _ string) (*models.PositionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = rec
	stored := *rec
	stored.ID = 42
	return &stored, nil
}

type fakeMessages struct {
	texts []string
	err   error
}

func (f *fakeMessages) InsertMessage(_ context.Context, text string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.texts = append(f.texts, text)
	return int64(len(f.texts)), nil
}

type fakeHub struct {
	clients []models.ConnectionInfo
	texts   []string
	alerts  []models.CameraAlert
}

func (f *fakeHub) Snapshot() []models.ConnectionInfo { return f.clients }
func (f *fakeHub) ClientCount() int                  { return len(f.clients) }

func (f *fakeHub) BroadcastTextMessage(_ int64, text string) int {
	f.texts = append(f.texts, text)
	return len(f.clients)
}

func (f *fakeHub) RaiseAlert(alert models.CameraAlert, _ string) int {
	if !alert.Actionable() {
		return 0
	}
	f.alerts = append(f.alerts, alert)
	return len(f.clients)
}

type handlerFixture struct {
	rec      *fakeReconciler
	cache    *fakeLatestCache
	ingestor *fakeIngestor
	messages *fakeMessages
	hub      *fakeHub
	router   *Router
}

func newFixture(mqttUp bool) *handlerFixture {
	fx := &handlerFixture{
		rec:      &fakeReconciler{},
		cache:    &fakeLatestCache{err: cache.ErrCacheMiss},
		ingestor: &fakeIngestor{},
		messages: &fakeMessages{},
		hub: &fakeHub{clients: []models.ConnectionInfo{
			{ID: "client_a", RemoteAddress: "10.0.0.1", Alive: true},
			{ID: "client_b", RemoteAddress: "10.0.0.2", Alive: true},
		}},
	}
	h := NewGatewayHandler(fx.rec, fx.cache, fx.ingestor, fx.messages, fx.hub,
		func() bool { return mqttUp }, zap.NewNop())
	fx.router = NewRouter(zap.NewNop())
	fx.router.RegisterGatewayRoutes(h)
	return fx
}

func (fx *handlerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestStatus(t *testing.T) {
	fx := newFixture(true)

	rr := fx.do(t, http.MethodGet, "/", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "Welcome to Be My Eyes API", body["message"])
	assert.Equal(t, "connected", body["mqtt_status"])
	assert.Equal(t, float64(2), body["websocket_clients"])
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatus_MQTTDown(t *testing.T) {
	fx := newFixture(false)

	body := decode(t, fx.do(t, http.MethodGet, "/", nil))
	assert.Equal(t, "disconnected", body["mqtt_status"])
}

func TestPreflight(t *testing.T) {
	fx := newFixture(true)

	rr := fx.do(t, http.MethodOptions, "/api/v1/speech", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestListClients(t *testing.T) {
	fx := newFixture(true)

	rr := fx.do(t, http.MethodGet, "/api/v1/clients", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, float64(ResultSuccess), body["code"])
	result := body["result"].(map[string]interface{})
	assert.Equal(t, float64(2), result["total"])
	clients := result["clients"].([]interface{})
	assert.Equal(t, "client_a", clients[0].(map[string]interface{})["id"])
}

func TestCreateLocation(t *testing.T) {
	fx := newFixture(true)
	before := time.Now().UnixMilli()

	rr := fx.do(t, http.MethodPost, "/api/v1/locations", map[string]interface{}{
		"long": 47.52, "lat": -18.91, "addr": "Analakely",
	})

	require.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, fx.ingestor.got)
	assert.Equal(t, 47.52, fx.ingestor.got.Longitude)
	assert.Equal(t, -18.91, fx.ingestor.got.Latitude)
	require.NotNil(t, fx.ingestor.got.Address)
	assert.Equal(t, "Analakely", *fx.ingestor.got.Address)
	assert.GreaterOrEqual(t, fx.ingestor.got.Timestamp, before)

	result := decode(t, rr)["result"].(map[string]interface{})
	assert.Equal(t, float64(42), result["id"])
	assert.Equal(t, float64(fx.ingestor.got.Timestamp), result["timestamp"])
}

func TestCreateLocation_Validation(t *testing.T) {
	fx := newFixture(true)

	rr := fx.do(t, http.MethodPost, "/api/v1/locations", map[string]interface{}{"long": 1.0})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = fx.do(t, http.MethodPost, "/api/v1/locations", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, fx.ingestor.got)
}

func TestCreateLocation_StoreError(t *testing.T) {
	fx := newFixture(true)
	fx.ingestor.err = errors.New("db down")

	rr := fx.do(t, http.MethodPost, "/api/v1/locations", map[string]interface{}{"long": 1.0, "lat": 2.0})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, float64(ResultError), decode(t, rr)["code"])
}

func TestGetData_LimitParsing(t *testing.T) {
	fx := newFixture(true)
	fx.rec.positional = []*models.PairedRecord{
		models.NewPairedRecord(&models.PositionRecord{ID: 2, Timestamp: 2000}, &models.SensorRecord{ID: 2, Timestamp: 2100}),
	}

	rr := fx.do(t, http.MethodGet, "/api/v1/data", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 10, fx.rec.lastLimit)

	result := decode(t, rr)["result"].([]interface{})
	require.Len(t, result, 1)
	assert.Equal(t, true, result[0].(map[string]interface{})["ids_aligned"])

	fx.do(t, http.MethodGet, "/api/v1/data?limit=3", nil)
	assert.Equal(t, 3, fx.rec.lastLimit)

	fx.do(t, http.MethodGet, "/api/v1/data?limit=abc", nil)
	assert.Equal(t, 10, fx.rec.lastLimit)
}

func TestGetData_EmptyIsArray(t *testing.T) {
	fx := newFixture(true)
	fx.rec.positional = []*models.PairedRecord{}

	rr := fx.do(t, http.MethodGet, "/api/v1/data", nil)

	assert.JSONEq(t, `{"code":2000,"type":"success","message":"ok","result":[]}`, rr.Body.String())
}

func TestGetData_Error(t *testing.T) {
	fx := newFixture(true)
	fx.rec.err = errors.New("query failed")

	rr := fx.do(t, http.MethodGet, "/api/v1/data", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = fx.do(t, http.MethodGet, "/api/v1/data/joined", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestGetJoinedData(t *testing.T) {
	fx := newFixture(true)
	fx.rec.joined = []*models.PairedRecord{
		models.NewPairedRecord(&models.PositionRecord{ID: 5}, nil),
	}

	rr := fx.do(t, http.MethodGet, "/api/v1/data/joined?limit=5", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, fx.rec.lastLimit)
	assert.Len(t, decode(t, rr)["result"], 1)
}

func TestGetLatestData_CacheHit(t *testing.T) {
	fx := newFixture(true)
	fx.cache.err = nil
	fx.cache.paired = models.NewPairedRecord(&models.PositionRecord{ID: 9, Timestamp: 900}, nil)

	rr := fx.do(t, http.MethodGet, "/api/v1/data/latest", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, fx.rec.latestHits)
	result := decode(t, rr)["result"].(map[string]interface{})
	assert.Equal(t, float64(900), result["combined_timestamp"])
}

func TestGetLatestData_FallsBackToReconciler(t *testing.T) {
	for _, cacheErr := range []error{cache.ErrCacheMiss, errors.New("redis down")} {
		fx := newFixture(true)
		fx.cache.err = cacheErr
		fx.rec.latest = models.NewPairedRecord(nil, &models.SensorRecord{ID: 4, Timestamp: 400})

		rr := fx.do(t, http.MethodGet, "/api/v1/data/latest", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, fx.rec.latestHits)
	}
}

func TestExportData(t *testing.T) {
	fx := newFixture(true)
	addr := "Analakely"
	cal := 12.5
	fx.rec.positional = []*models.PairedRecord{
		models.NewPairedRecord(
			&models.PositionRecord{ID: 1, Longitude: 47.5, Latitude: -18.9, Address: &addr, Timestamp: 1000},
			&models.SensorRecord{ID: 1, StepCount: 120, Calories: &cal, Timestamp: 1500},
		),
	}

	rr := fx.do(t, http.MethodGet, "/api/v1/data/export", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "bbe-data-export.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Data")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, DataExportHeader, rows[0])
	assert.Equal(t, "1", rows[1][1])
	assert.Equal(t, "Analakely", rows[1][4])
	assert.Equal(t, "120", rows[1][6])
	assert.Equal(t, "12.5", rows[1][7])
	assert.Equal(t, "500", rows[1][10])
	assert.Equal(t, "Yes", rows[1][11])
}

func TestExportData_QueryError(t *testing.T) {
	fx := newFixture(true)
	fx.rec.err = errors.New("query failed")

	rr := fx.do(t, http.MethodGet, "/api/v1/data/export", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(ResultError), decode(t, rr)["code"])
}

func TestGenerateDataExport_MissingSides(t *testing.T) {
	data, err := GenerateDataExport([]*models.PairedRecord{
		models.NewPairedRecord(nil, &models.SensorRecord{ID: 3, StepCount: 0, Timestamp: 3000}),
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Data")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1][1])
	assert.Equal(t, "3", rows[1][5])
	assert.Equal(t, "0", rows[1][6])
	assert.Equal(t, "No", rows[1][11])
}

func TestCreateSpeech(t *testing.T) {
	fx := newFixture(true)

	rr := fx.do(t, http.MethodPost, "/api/v1/speech", map[string]string{"text": "  turn left  "})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"turn left"}, fx.messages.texts)
	assert.Equal(t, []string{"turn left"}, fx.hub.texts)
	result := decode(t, rr)["result"].(map[string]interface{})
	assert.Equal(t, float64(2), result["clientCount"])
	assert.Equal(t, float64(1), result["id"])
}

func TestCreateSpeech_MessageRequired(t *testing.T) {
	fx := newFixture(true)

	rr := fx.do(t, http.MethodPost, "/api/v1/speech", map[string]string{"text": "   "})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Message is required", decode(t, rr)["message"])
	assert.Empty(t, fx.messages.texts)
	assert.Empty(t, fx.hub.texts)
}

func TestCreateSpeech_BodyTooLarge(t *testing.T) {
	fx := newFixture(true)

	rr := fx.do(t, http.MethodPost, "/api/v1/speech", `{"text":"`+strings.Repeat("a", maxBodyBytes)+`"}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, float64(ResultError), decode(t, rr)["code"])
	assert.Empty(t, fx.messages.texts)
	assert.Empty(t, fx.hub.texts)
}

func TestCreateSpeech_StoreErrorSkipsBroadcast(t *testing.T) {
	fx := newFixture(true)
	fx.messages.err = errors.New("db down")

	rr := fx.do(t, http.MethodPost, "/api/v1/speech", map[string]string{"text": "hello"})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, fx.hub.texts)
}

func TestRaiseCameraAlert(t *testing.T) {
	fx := newFixture(true)

	rr := fx.do(t, http.MethodPost, "/api/v1/camera", map[string]interface{}{
		"obstacle": true, "direction": "left", "distance": 1.5,
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	result := decode(t, rr)["result"].(map[string]interface{})
	assert.Equal(t, true, result["actionable"])
	assert.Equal(t, float64(2), result["sent"])

	rr = fx.do(t, http.MethodPost, "/api/v1/camera", map[string]interface{}{"obstacle": false})
	result = decode(t, rr)["result"].(map[string]interface{})
	assert.Equal(t, false, result["actionable"])
	assert.Equal(t, float64(0), result["sent"])
	assert.Len(t, fx.hub.alerts, 1)
}
