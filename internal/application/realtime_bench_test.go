package application

import (
	"context"
	"fmt"
	"testing"

	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/internal/mocks"
)

// BenchmarkRegistryRegistration measures registry inserts with and without
// contention on the same identities.
func BenchmarkRegistryRegistration(b *testing.B) {
	logger := mocks.NewMockLogger()

	b.Run("DistinctIdentities", func(b *testing.B) {
		registry := NewConnectionRegistry[domain.Identity]("bench", logger)
		conns := make([]*mocks.MockConnection, b.N)
		for i := range conns {
			conns[i] = mocks.NewMockConnection()
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			registry.Register(domain.Identity(fmt.Sprintf("user_%d", i)), conns[i])
		}
	})

	b.Run("ConcurrentLookup", func(b *testing.B) {
		registry := NewConnectionRegistry[domain.Identity]("bench", logger)
		const users = 1000
		for i := 0; i < users; i++ {
			registry.Register(domain.Identity(fmt.Sprintf("user_%d", i)), mocks.NewMockConnection())
		}
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			i := 0
			for pb.Next() {
				registry.Lookup(domain.Identity(fmt.Sprintf("user_%d", i%users)))
				i++
			}
		})
	})
}

// BenchmarkSignalingRelay measures decoding and forwarding one ICE candidate.
func BenchmarkSignalingRelay(b *testing.B) {
	relay := NewSignalingRelay(mocks.NewMockLogger(), mocks.NewMockCallSessionStore(), mocks.NewMockEventPublisher())
	from, to := mocks.NewMockConnection(), mocks.NewMockConnection()
	relay.Registry().Register("A", from)
	relay.Registry().Register("B", to)
	frame := []byte(`{"type":"ice-candidate","candidate":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.2 54400 typ host","sdpMid":"0"},"senderId":"A","targetId":"B"}`)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		relay.HandleFrame(ctx, from, frame)
	}
}

// BenchmarkChatBroadcast measures fan-out of a status event to rooms of
// increasing size.
func BenchmarkChatBroadcast(b *testing.B) {
	for _, scale := range []int{2, 10, 100} {
		b.Run(fmt.Sprintf("Members_%d", scale), func(b *testing.B) {
			chat := NewChatRoomBroadcaster(mocks.NewMockLogger(), mocks.NewConfigProvider(), mocks.NewMockChatStore(), mocks.NewMockEventPublisher())
			for i := 0; i < scale; i++ {
				chat.rooms[1] = append(chat.rooms[1], &participant{id: domain.ParticipantID(i), role: domain.RoleUser, conn: mocks.NewMockConnection()})
			}
			event := domain.NewStatusEvent(domain.PresenceOnline, 1, domain.RoleDoctor, chat.now())
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				chat.broadcast(ctx, 1, event)
			}
		})
	}
}

// BenchmarkNotificationDispatch measures delivery to a connected receiver and
// the offline path.
func BenchmarkNotificationDispatch(b *testing.B) {
	service := NewNotificationService(mocks.NewMockLogger(), mocks.NewConfigProvider(), mocks.NewMockPresenceRecorder())
	service.Registry().Register("online", mocks.NewMockConnection())
	ctx := context.Background()

	for _, receiver := range []domain.Identity{"online", "offline"} {
		req := domain.NotificationRequest{ReceiverID: receiver, Message: "Appointment confirmed", NotificationType: "appointment"}
		b.Run(string(receiver), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, _, err := service.Dispatch(ctx, req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
