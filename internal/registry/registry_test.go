package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"wamux/internal/errors"
	"wamux/internal/models"
	"wamux/internal/webhook"
	"wamux/pkg/waclient/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	to   string
	body string
}

type fakeClient struct {
	mu         sync.Mutex
	events     chan types.Event
	closeOnce  sync.Once
	connectErr error
	sendErr    error
	connected  bool
	loggedOut  bool
	sent       []sentMessage
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan types.Event, 16)}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) SendText(ctx context.Context, to, body string) (*types.SendMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{to: to, body: body})
	return &types.SendMessageResponse{MessageID: "msg-1", Status: "sent"}, nil
}

func (f *fakeClient) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *fakeClient) Events() <-chan types.Event {
	return f.events
}

func (f *fakeClient) Close() error {
	f.closeOnce.Do(func() {
		close(f.events)
	})
	return nil
}

func (f *fakeClient) wasLoggedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

func (f *fakeClient) emit(ev types.Event) {
	f.events <- ev
}

type testHarness struct {
	registry   *Registry
	dispatcher *webhook.Dispatcher
	clients    map[string]*fakeClient
	mu         sync.Mutex
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	h := &testHarness{clients: make(map[string]*fakeClient)}
	h.dispatcher = webhook.NewDispatcher(logger, time.Second, nil, nil)

	factory := func(identifier string) (types.Client, error) {
		fc := newFakeClient()
		h.mu.Lock()
		h.clients[identifier] = fc
		h.mu.Unlock()
		return fc, nil
	}

	h.registry = NewRegistry(factory, h.dispatcher, logger, nil)
	return h
}

func (h *testHarness) client(identifier string) *fakeClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[identifier]
}

func TestAddClient(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	session, err := h.registry.AddClient(ctx, "15551234567")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "15551234567", session.Identifier())

	got, err := h.registry.GetClient("15551234567")
	require.NoError(t, err)
	assert.Same(t, session, got)

	require.Eventually(t, func() bool {
		fc := h.client("15551234567")
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return fc.connected
	}, time.Second, 10*time.Millisecond, "client should connect in the background")
}

func TestAddClientDuplicate(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.registry.AddClient(ctx, "15551234567")
	require.NoError(t, err)

	_, err = h.registry.AddClient(ctx, "15551234567")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAlreadyExists))
}

func TestAddClientConcurrentDuplicate(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	const attempts = 20
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.registry.AddClient(ctx, "15551234567")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, duplicates int
	for err := range results {
		if err == nil {
			successes++
		} else if errors.IsCode(err, errors.ErrCodeAlreadyExists) {
			duplicates++
		}
	}

	assert.Equal(t, 1, successes, "exactly one concurrent add should win")
	assert.Equal(t, attempts-1, duplicates)
	assert.Equal(t, 1, h.registry.Count())
}

func TestAddClientConnectFailure(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	dispatcher := webhook.NewDispatcher(logger, time.Second, nil, nil)

	fc := newFakeClient()
	fc.connectErr = fmt.Errorf("gateway unreachable")

	factory := func(identifier string) (types.Client, error) {
		return fc, nil
	}

	reg := NewRegistry(factory, dispatcher, logger, nil)

	session, err := reg.AddClient(context.Background(), "15551234567")
	require.NoError(t, err, "add should succeed even when connecting later fails")

	require.Eventually(t, func() bool {
		return session.Status() == models.StatusDisconnected
	}, time.Second, 10*time.Millisecond)
}

func TestRemoveClient(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.registry.AddClient(ctx, "15551234567")
	require.NoError(t, err)

	h.registry.SetWebhook("15551234567", "https://example.com/hook")
	require.True(t, h.dispatcher.HasWebhook("15551234567"))

	err = h.registry.RemoveClient(ctx, "15551234567")
	require.NoError(t, err)

	assert.True(t, h.client("15551234567").wasLoggedOut())
	assert.False(t, h.dispatcher.HasWebhook("15551234567"), "webhook registration should be cleared on removal")

	_, err = h.registry.GetClient("15551234567")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestRemoveClientNotFound(t *testing.T) {
	h := newTestHarness(t)

	err := h.registry.RemoveClient(context.Background(), "15550000000")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestRemoveClientTwice(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.registry.AddClient(ctx, "15551234567")
	require.NoError(t, err)

	require.NoError(t, h.registry.RemoveClient(ctx, "15551234567"))

	err = h.registry.RemoveClient(ctx, "15551234567")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestReuseIdentifierAfterRemoval(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	first, err := h.registry.AddClient(ctx, "15551234567")
	require.NoError(t, err)
	require.NoError(t, h.registry.RemoveClient(ctx, "15551234567"))

	second, err := h.registry.AddClient(ctx, "15551234567")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, models.StatusInitializing, second.Status())
}

func TestGetStatusNotFound(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.registry.GetStatus("15550000000")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestGetPairingCode(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	session, err := h.registry.AddClient(ctx, "15551234567")
	require.NoError(t, err)

	_, ok, err := h.registry.GetPairingCode("15551234567")
	require.NoError(t, err)
	assert.False(t, ok, "no pairing code before the client emits one")

	h.client("15551234567").emit(types.Event{Type: types.EventQR, Code: "qr-data-1"})

	require.Eventually(t, func() bool {
		code, ok, err := h.registry.GetPairingCode("15551234567")
		return err == nil && ok && code == "qr-data-1"
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, models.StatusAwaitingPairing, session.Status())
}

func TestGetPairingCodeNotFound(t *testing.T) {
	h := newTestHarness(t)

	_, _, err := h.registry.GetPairingCode("15550000000")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestSendMessage(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.registry.AddClient(ctx, "15551234567")
	require.NoError(t, err)

	resp, err := h.registry.SendMessage(ctx, "15551234567", "15557654321", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", resp.MessageID)

	fc := h.client("15551234567")
	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "15557654321", fc.sent[0].to)
	assert.Equal(t, "hello", fc.sent[0].body)
}

func TestSendMessageFailure(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.registry.AddClient(ctx, "15551234567")
	require.NoError(t, err)

	fc := h.client("15551234567")
	fc.mu.Lock()
	fc.sendErr = fmt.Errorf("gateway rejected message")
	fc.mu.Unlock()

	_, err = h.registry.SendMessage(ctx, "15551234567", "15557654321", "hello")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSendFailed))
}

func TestSendMessageUnknownClient(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.registry.SendMessage(context.Background(), "15550000000", "15557654321", "hello")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestSetWebhook(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.registry.AddClient(ctx, "15551234567")
	require.NoError(t, err)

	require.NoError(t, h.registry.SetWebhook("15551234567", "https://example.com/hook"))
	assert.True(t, h.dispatcher.HasWebhook("15551234567"))
}

func TestSetWebhookUnknownClient(t *testing.T) {
	h := newTestHarness(t)

	err := h.registry.SetWebhook("15550000000", "https://example.com/hook")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestListClientsPagination(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := h.registry.AddClient(ctx, fmt.Sprintf("155512%05d", i))
		require.NoError(t, err)
	}

	items, pagination := h.registry.ListClients(nil, 2, 10)
	assert.Len(t, items, 10)
	assert.Equal(t, 2, pagination.Page)
	assert.Equal(t, 10, pagination.Limit)
	assert.Equal(t, 25, pagination.Total)
	assert.Equal(t, 3, pagination.TotalPages)
	assert.True(t, pagination.HasNext)
	assert.True(t, pagination.HasPrevious)

	items, pagination = h.registry.ListClients(nil, 3, 10)
	assert.Len(t, items, 5)
	assert.False(t, pagination.HasNext)
	assert.True(t, pagination.HasPrevious)
}

func TestListClientsBeyondLastPage(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.registry.AddClient(ctx, fmt.Sprintf("155512%05d", i))
		require.NoError(t, err)
	}

	items, pagination := h.registry.ListClients(nil, 4, 10)
	assert.Empty(t, items)
	assert.Equal(t, 5, pagination.Total)
	assert.Equal(t, 1, pagination.TotalPages)
	assert.False(t, pagination.HasNext)
	assert.True(t, pagination.HasPrevious)
}

func TestListClientsStatusFilter(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := h.registry.AddClient(ctx, fmt.Sprintf("155512%05d", i))
		require.NoError(t, err)
	}

	h.client("15551200001").emit(types.Event{Type: types.EventReady})
	h.client("15551200003").emit(types.Event{Type: types.EventReady})

	require.Eventually(t, func() bool {
		ready := models.StatusReady
		items, _ := h.registry.ListClients(&ready, 1, 10)
		return len(items) == 2
	}, time.Second, 10*time.Millisecond)

	ready := models.StatusReady
	items, pagination := h.registry.ListClients(&ready, 1, 10)
	assert.Equal(t, 2, pagination.Total, "pagination math must follow the filtered set")
	for _, item := range items {
		assert.Equal(t, models.StatusReady, item.Status)
	}
}

func TestListClientsOrdering(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"15551110001", "15551110002", "15551110003"} {
		session, err := h.registry.AddClient(ctx, id)
		require.NoError(t, err)
		session.createdAt = base.Add(time.Duration(i) * time.Minute)
	}

	items, _ := h.registry.ListClients(nil, 1, 10)
	require.Len(t, items, 3)
	assert.Equal(t, "15551110003", items[0].PhoneNumber, "newest session listed first")
	assert.Equal(t, "15551110002", items[1].PhoneNumber)
	assert.Equal(t, "15551110001", items[2].PhoneNumber)
}

func TestListClientsEqualCreationTimes(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	created := time.Now()
	for _, id := range []string{"15551110001", "15551110002", "15551110003"} {
		session, err := h.registry.AddClient(ctx, id)
		require.NoError(t, err)
		session.createdAt = created
	}

	items, _ := h.registry.ListClients(nil, 1, 10)
	require.Len(t, items, 3)
	assert.Equal(t, "15551110001", items[0].PhoneNumber, "ties fall back to insertion order")
	assert.Equal(t, "15551110002", items[1].PhoneNumber)
	assert.Equal(t, "15551110003", items[2].PhoneNumber)
}

func TestShutdown(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.registry.AddClient(ctx, fmt.Sprintf("155512%05d", i))
		require.NoError(t, err)
	}
	require.Equal(t, 3, h.registry.Count())

	h.registry.Shutdown(ctx)
	assert.Equal(t, 0, h.registry.Count())
}
