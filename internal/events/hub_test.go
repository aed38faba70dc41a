package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wamux/internal/constants"
	"wamux/internal/models"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewHub(logger)
}

func TestPublishToSubscriber(t *testing.T) {
	hub := newTestHub()

	ch, cancel := hub.Subscribe()
	defer cancel()

	payload := models.WebhookPayload{Event: models.EventReady, ClientID: "15551234567"}
	hub.Publish(payload)

	select {
	case got := <-ch:
		assert.Equal(t, payload, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the published event")
	}
}

func TestPublishFansOut(t *testing.T) {
	hub := newTestHub()

	first, cancelFirst := hub.Subscribe()
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()

	hub.Publish(models.WebhookPayload{Event: models.EventQR, ClientID: "15551234567"})

	for _, ch := range []<-chan models.WebhookPayload{first, second} {
		select {
		case got := <-ch:
			assert.Equal(t, models.EventQR, got.Event)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the published event")
		}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	hub := newTestHub()

	// Must not block or panic.
	hub.Publish(models.WebhookPayload{Event: models.EventReady})
}

func TestCancelUnsubscribes(t *testing.T) {
	hub := newTestHub()

	_, cancel := hub.Subscribe()
	require.Equal(t, 1, hub.SubscriberCount())

	cancel()
	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	hub := newTestHub()

	ch, cancel := hub.Subscribe()
	defer cancel()

	// Overfill the buffer without reading; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < constants.EventBufferSize+10; i++ {
			hub.Publish(models.WebhookPayload{Event: models.EventMessage})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// Only the buffered events survive; the overflow was dropped.
	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, constants.EventBufferSize, received)
}

func TestServeWSReleasesSubscriberOnClientClose(t *testing.T) {
	hub := newTestHub()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Nothing is ever published; the close frame alone must tear the
	// subscription down.
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}
