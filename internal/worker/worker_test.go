package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"sugu-checkout/config"
	"sugu-checkout/internal/models"
	"sugu-checkout/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReporter struct {
	drafts []models.StaleDraft
	calls  int
	days   int
}

func (r *fakeReporter) Report(ctx context.Context, days int) ([]models.StaleDraft, error) {
	r.calls++
	r.days = days
	return r.drafts, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.Notification
}

func (n *recordingNotifier) Emit(ctx context.Context, e *models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func newLocker(t *testing.T) *redisclient.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisclient.New(rdb)
}

func TestStaleDraftSweepOncePerSlot(t *testing.T) {
	locker := newLocker(t)
	reporter := &fakeReporter{drafts: []models.StaleDraft{
		{OrderID: 7, OrderNumber: "SG-240312-0000ABCD", UserID: 3, AgeDays: 8, Total: 3200},
	}}
	notifier := &recordingNotifier{}
	cfg := config.DraftConfig{StaleDays: 7, SweepInterval: 24 * time.Hour}

	now := time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	first := NewStaleDraftWorker(reporter, locker, notifier, cfg)
	first.now = func() time.Time { return now }
	second := NewStaleDraftWorker(reporter, locker, notifier, cfg)
	second.now = func() time.Time { return now.Add(time.Hour) }

	drafts, err := first.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, drafts, 1)

	drafts, err = second.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, drafts, "same slot already reported")

	assert.Equal(t, 1, reporter.calls)
	assert.Equal(t, 7, reporter.days)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, models.EventTypeStaleDraftsReported, notifier.events[0].EventType)
	assert.Equal(t, int64(1), notifier.events[0].Count)
	assert.Equal(t, 8, notifier.events[0].Drafts[0].AgeDays)

	second.now = func() time.Time { return now.Add(24 * time.Hour) }
	_, err = second.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, reporter.calls, "next slot reports again")
}

type fakeRecorder struct {
	username, ip string
}

func (r *fakeRecorder) Record(ctx context.Context, username, ip string) (bool, error) {
	r.username, r.ip = username, ip
	return false, nil
}

func TestAuthEventWorkerRoutesLoginFailures(t *testing.T) {
	recorder := &fakeRecorder{}
	w := NewAuthEventWorker(nil, recorder)

	event := models.LoginFailedEvent{Username: "awa", ClientIP: "198.51.100.7"}
	event.EventType = models.EventTypeLoginFailed
	value, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), kafka.Message{Value: value}))
	assert.Equal(t, "awa", recorder.username)
	assert.Equal(t, "198.51.100.7", recorder.ip)

	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"LOGIN_SUCCEEDED"}`)}))
	assert.Error(t, w.eventHandler.HandleMessage(context.Background(), kafka.Message{Value: []byte(`garbage`)}))
}
