package nats

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/internal/mocks"
)

func TestHandleMessageDispatches(t *testing.T) {
	dispatcher := &mocks.MockDispatcher{Result: domain.DeliveryDelivered}
	consumer := NewNotificationConsumer(nil, dispatcher, mocks.NewConfigProvider(), mocks.NewMockLogger())

	msg := nats.NewMsg("telehealth.notifications.appointment")
	msg.Data = []byte(`{"receiver_id":12,"message":"Appointment moved","notification_type":"appointment","consultation_id":3}`)
	consumer.HandleMessage(msg)

	if len(dispatcher.Requests) != 1 {
		t.Fatalf("dispatch calls = %d", len(dispatcher.Requests))
	}
	req := dispatcher.Requests[0]
	if req.ReceiverID != "12" || req.NotificationType != "appointment" || string(req.ConsultationID) != "3" {
		t.Errorf("request = %+v", req)
	}
	if dispatcher.Sources[0] != "nats" {
		t.Errorf("source = %q", dispatcher.Sources[0])
	}
}

func TestHandleMessageDiscardsInvalidPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":         `receiver 12`,
		"array":            `[1,2]`,
		"missing receiver": `{"message":"m","notification_type":"general"}`,
		"empty receiver":   `{"receiver_id":"  ","message":"m","notification_type":"general"}`,
	} {
		t.Run(name, func(t *testing.T) {
			dispatcher := &mocks.MockDispatcher{}
			logger := mocks.NewMockLogger()
			consumer := NewNotificationConsumer(nil, dispatcher, mocks.NewConfigProvider(), logger)

			msg := nats.NewMsg("telehealth.notifications.x")
			msg.Data = []byte(payload)
			consumer.HandleMessage(msg)

			if len(dispatcher.Requests) != 0 {
				t.Fatalf("invalid payload dispatched: %+v", dispatcher.Requests)
			}
			if !logger.Has("WARN", "Discarding invalid notification request") {
				t.Error("expected a warning for the discarded message")
			}
		})
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	consumer := NewNotificationConsumer(nil, &mocks.MockDispatcher{}, mocks.NewConfigProvider(), mocks.NewMockLogger())
	if err := consumer.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestChatSubject(t *testing.T) {
	if got := ChatSubject("telehealth.chat", 42); got != "telehealth.chat.42.messages" {
		t.Fatalf("ChatSubject = %q", got)
	}
}

// The tests below need a NATS server; set TELEHEALTH_RT_TEST_NATS_URL to run them.
func connectForTest(t *testing.T) (*nats.Conn, config.Provider) {
	t.Helper()
	url := os.Getenv("TELEHEALTH_RT_TEST_NATS_URL")
	if url == "" {
		t.Skip("TELEHEALTH_RT_TEST_NATS_URL not set")
	}
	cfg := mocks.NewConfigProvider(func(c *config.Config) {
		c.NATS.URL = url
		c.NATS.NotificationSubject = "test.notifications." + t.Name() + ".>"
		c.NATS.CallEventsSubject = "test.calls." + t.Name()
		c.NATS.ChatEventsPrefix = "test.chat." + t.Name()
	})
	nc, cleanup, err := NewConnection(context.Background(), cfg, mocks.NewMockLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cleanup)
	return nc, cfg
}

func TestConsumerRepliesToRequests(t *testing.T) {
	nc, cfg := connectForTest(t)
	dispatcher := &mocks.MockDispatcher{Result: domain.DeliveryDelivered}
	consumer := NewNotificationConsumer(nc, dispatcher, cfg, mocks.NewMockLogger())
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer consumer.Stop()
	if err := consumer.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	subject := "test.notifications." + t.Name() + ".reminder"
	resp, err := nc.Request(subject, []byte(`{"receiver_id":"5","message":"m","notification_type":"reminder"}`), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var reply DispatchReply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != "delivered" || reply.NotificationID != "n-1" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestPublisherAnnouncesEvents(t *testing.T) {
	nc, cfg := connectForTest(t)
	calls, err := nc.SubscribeSync(cfg.Get().NATS.CallEventsSubject)
	if err != nil {
		t.Fatal(err)
	}
	chat, err := nc.SubscribeSync(ChatSubject(cfg.Get().NATS.ChatEventsPrefix, 9))
	if err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	publisher := NewEventPublisher(nc, cfg, mocks.NewMockLogger())
	if err := publisher.PublishCallEnded(context.Background(), domain.CallEnded{SenderID: "A", TargetID: "B"}); err != nil {
		t.Fatal(err)
	}
	if err := publisher.PublishChatMessage(context.Background(), domain.ChatMessage{ID: 1, RoomID: 9, Body: "hi"}); err != nil {
		t.Fatal(err)
	}

	if _, err := calls.NextMsg(2 * time.Second); err != nil {
		t.Fatalf("call event: %v", err)
	}
	m, err := chat.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("chat event: %v", err)
	}
	var event map[string]any
	if err := json.Unmarshal(m.Data, &event); err != nil {
		t.Fatal(err)
	}
	if event["type"] != domain.EventMessage || event["message"] != "hi" {
		t.Fatalf("chat event = %v", event)
	}
}
