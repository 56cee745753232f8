package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/jobrelay/pkg/adapters/events/memory"
	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestHandleJobStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := memory.NewInMemoryEventBus()
	h := NewHandler(bus, zap.NewNop())

	router := gin.New()
	router.GET("/api/v1/jobs/:id/ws", h.HandleJobStream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/job-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Publish until the subscription is live; events for other jobs are filtered
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	go func() {
		for time.Now().Before(deadline) {
			_ = bus.Publish(context.Background(), domain.TopicJobEvents, domain.Event{ID: "other", Type: domain.EventTypeJobRunning, JobUUID: "job-2"})
			_ = bus.Publish(context.Background(), domain.TopicJobEvents, domain.Event{ID: "mine", Type: domain.EventTypeJobRunning, JobUUID: "job-1"})
			time.Sleep(50 * time.Millisecond)
		}
	}()

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.JobUUID != "job-1" || event.ID != "mine" {
		t.Fatalf("unexpected event: %+v", event)
	}
}
