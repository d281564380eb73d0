package consumer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	mqttcommon "github.com/mandrindraa/bbe-my-eyes/common/mqtt"
	"github.com/mandrindraa/bbe-my-eyes/internal/config"
	"github.com/mandrindraa/bbe-my-eyes/internal/hub"
	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu        sync.Mutex
	positions []*models.PositionRecord
	sensors   []*models.SensorRecord
	err       error
	nextID    int64
}

func (s *fakeStore) InsertPosition(_ context.Context, rec *models.PositionRecord) (*models.PositionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.nextID++
	stored := *rec
	stored.ID = s.nextID
	s.positions = append(s.positions, &stored)
	return &stored, nil
}

func (s *fakeStore) InsertSensor(_ context.Context, rec *models.SensorRecord) (*models.SensorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.nextID++
	stored := *rec
	stored.ID = s.nextID
	s.sensors = append(s.sensors, &stored)
	return &stored, nil
}

type fakeLatest struct {
	paired *models.PairedRecord
	err    error
}

func (f *fakeLatest) Latest(context.Context) (*models.PairedRecord, error) {
	return f.paired, f.err
}

type fakeCache struct {
	stored []*models.PairedRecord
	err    error
}

func (f *fakeCache) StoreLatest(_ context.Context, p *models.PairedRecord) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, p)
	return nil
}

type fakeMirror struct {
	kinds []string
	err   error
}

func (f *fakeMirror) PublishPosition(context.Context, *models.PositionRecord) error {
	f.kinds = append(f.kinds, "position")
	return f.err
}

func (f *fakeMirror) PublishSensor(context.Context, *models.SensorRecord) error {
	f.kinds = append(f.kinds, "sensor")
	return f.err
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []hub.Event
}

func (f *fakeDispatcher) Handle(ev hub.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]mqttcommon.MessageHandler
	qos          map[string]byte
	unsubscribed []string
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]mqttcommon.MessageHandler{}
		f.qos = map[string]byte{}
	}
	f.handlers[topic] = handler
	f.qos[topic] = qos
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

type fixture struct {
	store      *fakeStore
	latest     *fakeLatest
	cache      *fakeCache
	mirror     *fakeMirror
	dispatcher *fakeDispatcher
	consumer   *MQTTConsumer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Topics.Locations = "be_my_eyes/locations"
	cfg.Topics.Sensors = "be_my_eyes/sensors"
	cfg.Topics.Camera = "be_my_eyes/camera"
	cfg.MQTT.QoS = 1

	f := &fixture{
		store:      &fakeStore{},
		latest:     &fakeLatest{paired: models.NewPairedRecord(&models.PositionRecord{ID: 1, Timestamp: 5}, nil)},
		cache:      &fakeCache{},
		mirror:     &fakeMirror{},
		dispatcher: &fakeDispatcher{},
	}
	metrics := NewMetrics()
	ing := NewIngestor(f.store, f.latest, f.cache, f.mirror, f.dispatcher, metrics, zap.NewNop())
	f.consumer = NewMQTTConsumer(cfg, &fakeSubscriber{}, ing, f.dispatcher, metrics, zap.NewNop())
	return f
}

func TestHandleLocation_PersistThenBroadcast(t *testing.T) {
	f := newFixture(t)

	err := f.consumer.handleLocation("be_my_eyes/locations",
		[]byte(`{"longitude":47.52,"latitude":-18.91,"adresse":"Analakely","timestamp":1700000000000}`))
	require.NoError(t, err)

	require.Len(t, f.store.positions, 1)
	require.Len(t, f.dispatcher.events, 1)

	ev, ok := f.dispatcher.events[0].(hub.RecordIngested)
	require.True(t, ok)
	assert.Equal(t, int64(1), ev.Position.ID)
	assert.Equal(t, "Analakely", *ev.Position.Address)
	assert.Nil(t, ev.Sensor)
	assert.Same(t, f.latest.paired, ev.Paired)

	assert.Equal(t, []string{"position"}, f.mirror.kinds)
	assert.Len(t, f.cache.stored, 1)

	snap := f.consumer.Metrics().GetSnapshot()
	assert.Equal(t, int64(1), snap.MessagesProcessed)
	assert.Equal(t, int64(1), snap.MessagesSucceeded)
}

func TestHandleLocation_InvalidDropped(t *testing.T) {
	f := newFixture(t)

	cases := []string{
		`not json`,
		`{"latitude":1,"timestamp":5}`,
		`{"longitude":1,"latitude":2}`,
	}
	for _, payload := range cases {
		assert.NoError(t, f.consumer.handleLocation("t", []byte(payload)), payload)
	}

	assert.Empty(t, f.store.positions)
	assert.Empty(t, f.dispatcher.events)

	snap := f.consumer.Metrics().GetSnapshot()
	assert.Equal(t, int64(3), snap.MessagesSkipped)
	assert.Equal(t, int64(3), snap.ErrorsParse)
}

func TestHandleSensor_PersistThenBroadcast(t *testing.T) {
	f := newFixture(t)

	err := f.consumer.handleSensor("be_my_eyes/sensors",
		[]byte(`{"step":0,"calories":1.5,"velocity":0.8,"temperature":36.5,"timestamp":1700000000001}`))
	require.NoError(t, err)

	require.Len(t, f.store.sensors, 1)
	assert.Equal(t, int64(0), f.store.sensors[0].StepCount)

	ev := f.dispatcher.events[0].(hub.RecordIngested)
	assert.NotNil(t, ev.Sensor)
	assert.Nil(t, ev.Position)
	assert.Equal(t, []string{"sensor"}, f.mirror.kinds)
}

func TestHandleSensor_MissingStep(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.consumer.handleSensor("t", []byte(`{"calories":2,"timestamp":10}`)))
	assert.Empty(t, f.store.sensors)
	assert.Empty(t, f.dispatcher.events)
}

func TestHandle_StoreFailureNoBroadcast(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("db unavailable")

	err := f.consumer.handleSensor("t", []byte(`{"step":3,"timestamp":10}`))
	assert.Error(t, err)

	err = f.consumer.handleLocation("t", []byte(`{"longitude":1,"latitude":2,"timestamp":10}`))
	assert.Error(t, err)

	assert.Empty(t, f.dispatcher.events)
	assert.Empty(t, f.mirror.kinds)
	assert.Empty(t, f.cache.stored)

	snap := f.consumer.Metrics().GetSnapshot()
	assert.Equal(t, int64(2), snap.MessagesFailed)
	assert.Equal(t, int64(2), snap.ErrorsPersist)
}

func TestHandle_ReconcileFailureStillBroadcastsRecord(t *testing.T) {
	f := newFixture(t)
	f.latest.err = errors.New("timeout")
	f.mirror.err = errors.New("redis down")

	require.NoError(t, f.consumer.handleLocation("t", []byte(`{"longitude":1,"latitude":2,"timestamp":10}`)))

	ev := f.dispatcher.events[0].(hub.RecordIngested)
	assert.NotNil(t, ev.Position)
	assert.Nil(t, ev.Paired)
	assert.Empty(t, f.cache.stored)

	snap := f.consumer.Metrics().GetSnapshot()
	assert.Equal(t, int64(1), snap.ErrorsReconcile)
	assert.Equal(t, int64(1), snap.ErrorsCache)
	assert.Equal(t, int64(1), snap.MessagesSucceeded)
}

func TestHandleCamera(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.consumer.handleCamera("t", []byte(`{"obstacle":false,"direction":"left","distance":2}`)))
	require.NoError(t, f.consumer.handleCamera("t", []byte(`{bad`)))
	assert.Empty(t, f.dispatcher.events)

	require.NoError(t, f.consumer.handleCamera("t", []byte(`{"obstacle":true,"direction":"right","distance":0.5}`)))
	require.Len(t, f.dispatcher.events, 1)
	ev := f.dispatcher.events[0].(hub.AlertRaised)
	assert.Equal(t, "right", ev.Alert.Direction)
	assert.Equal(t, 0.5, ev.Alert.Distance)

	snap := f.consumer.Metrics().GetSnapshot()
	assert.Equal(t, int64(3), snap.MessagesProcessed)
	assert.Equal(t, int64(2), snap.MessagesSkipped)
}

func TestStartStop_SubscribesAllTopics(t *testing.T) {
	f := newFixture(t)
	sub := f.consumer.subscriber.(*fakeSubscriber)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.consumer.Start(ctx) }()

	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return len(sub.handlers) == 3
	}, time.Second, 5*time.Millisecond)

	sub.mu.Lock()
	assert.Equal(t, byte(1), sub.qos["be_my_eyes/camera"])
	handler := sub.handlers["be_my_eyes/locations"]
	sub.mu.Unlock()

	require.NoError(t, handler("be_my_eyes/locations", []byte(`{"longitude":1,"latitude":2,"timestamp":10}`)))
	assert.Len(t, f.store.positions, 1)

	cancel()
	require.NoError(t, <-done)

	require.NoError(t, f.consumer.Stop(context.Background()))
	sort.Strings(sub.unsubscribed)
	assert.Equal(t, []string{"be_my_eyes/camera", "be_my_eyes/locations", "be_my_eyes/sensors"}, sub.unsubscribed)
}
