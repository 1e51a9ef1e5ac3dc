package leadership

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestNewElectionAppliesDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	e := NewElection(client, ElectionConfig{}, zerolog.Nop())
	if e.config.ElectionKey != defaultElectionKey || e.config.LeaseDuration != defaultLeaseDuration {
		t.Fatalf("defaults not applied: %+v", e.config)
	}
	if e.instanceID == "" {
		t.Fatal("expected generated instance id")
	}
	if e.IsLeader() {
		t.Fatal("new election must not start as leader")
	}
}

func TestUpdateLeadershipStatusKeepsLatest(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	e := NewElection(client, DefaultConfig(), zerolog.Nop())
	e.updateLeadershipStatus(true)
	e.updateLeadershipStatus(false)
	e.updateLeadershipStatus(true)

	if !e.IsLeader() {
		t.Fatal("expected leader")
	}
	if got := <-e.LeaderCh(); !got {
		t.Fatal("expected latest status to be leader")
	}

	// repeated status is not re-sent
	e.updateLeadershipStatus(true)
	select {
	case got := <-e.LeaderCh():
		t.Fatalf("unexpected status %v", got)
	default:
	}
}
