package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"orbit/api/internal/store"
)

func setupTestHub(t *testing.T) (*RedisHub, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	hub, err := NewRedisHub("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis hub: %v", err)
	}
	t.Cleanup(func() { _ = hub.Close() })
	return hub, s
}

func TestNewRedisHub(t *testing.T) {
	hub, _ := setupTestHub(t)
	if err := hub.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisHubRejectsBadURL(t *testing.T) {
	if _, err := NewRedisHub("not-a-url", time.Minute); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestHeartbeatAndOnline(t *testing.T) {
	hub, _ := setupTestHub(t)
	ctx := context.Background()

	if err := hub.Heartbeat(ctx, "user-a", []string{"p1", "p2"}); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if err := hub.Heartbeat(ctx, "user-b", []string{"p1"}); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	online, err := hub.Online(ctx, "p1")
	if err != nil {
		t.Fatalf("Online failed: %v", err)
	}
	sort.Strings(online)
	if len(online) != 2 || online[0] != "user-a" || online[1] != "user-b" {
		t.Fatalf("expected user-a and user-b online in p1, got %v", online)
	}

	online, err = hub.Online(ctx, "p2")
	if err != nil {
		t.Fatalf("Online failed: %v", err)
	}
	if len(online) != 1 || online[0] != "user-a" {
		t.Fatalf("expected only user-a online in p2, got %v", online)
	}
}

func TestPresenceExpires(t *testing.T) {
	hub, s := setupTestHub(t)
	ctx := context.Background()

	if err := hub.Heartbeat(ctx, "user-a", []string{"p1"}); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	s.FastForward(61 * time.Second)

	online, err := hub.Online(ctx, "p1")
	if err != nil {
		t.Fatalf("Online failed: %v", err)
	}
	if len(online) != 0 {
		t.Fatalf("expected presence to expire, got %v", online)
	}
	if members, _ := s.Members(hub.presenceSet("p1")); len(members) != 0 {
		t.Fatalf("expected stale members pruned, got %v", members)
	}
}

func TestLeave(t *testing.T) {
	hub, _ := setupTestHub(t)
	ctx := context.Background()

	if err := hub.Heartbeat(ctx, "user-a", []string{"p1"}); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if err := hub.Leave(ctx, "user-a", "p1"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	online, err := hub.Online(ctx, "p1")
	if err != nil {
		t.Fatalf("Online failed: %v", err)
	}
	if len(online) != 0 {
		t.Fatalf("expected nobody online after leave, got %v", online)
	}
}

func TestPublishReachesProjectChannel(t *testing.T) {
	hub, server := setupTestHub(t)
	ctx := context.Background()

	listener := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = listener.Close() })
	pubsub := listener.Subscribe(ctx, hub.Channel("p1"))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	projectID := "p1"
	entry := store.ActivityEntry{ID: "e1", ActorID: "user-a", ProjectID: &projectID, Action: store.ActionJoinedProject}
	if err := hub.Publish(ctx, Event{Type: "activity", ProjectID: projectID, ActorID: "user-a", Activity: &entry}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-pubsub.Channel():
		if msg.Channel != "orbit:project:p1" {
			t.Fatalf("unexpected channel %q", msg.Channel)
		}
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Activity == nil || event.Activity.Action != store.ActionJoinedProject {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishRequiresProject(t *testing.T) {
	hub, _ := setupTestHub(t)
	if err := hub.Publish(context.Background(), Event{Type: "activity"}); err == nil {
		t.Fatal("expected error for event without project")
	}
}

func TestNopHub(t *testing.T) {
	var hub Nop
	ctx := context.Background()
	if err := hub.Heartbeat(ctx, "u", []string{"p"}); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	online, err := hub.Online(ctx, "p")
	if err != nil || len(online) != 0 {
		t.Fatalf("Online = %v, %v", online, err)
	}
	if err := hub.Publish(ctx, Event{ProjectID: "p"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
