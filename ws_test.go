package main

import (
	"testing"
	"time"
)

func newTestHub(t *testing.T) (*Game, *Hub) {
	t.Helper()

	cfg := testConfig(t)
	cfg.roundDelay = time.Hour

	bank, err := parseQuestions(cfg, []byte(oneQuestionCSV))
	if err != nil {
		t.Fatalf("parse questions: %v", err)
	}

	game := NewGame(cfg, bank, newStatsCache(cfg.dataFile), newJudge(cfg))
	hub := newHub(cfg, game)
	game.SetNotifier(hub)
	return game, hub
}

func TestStateChangedNeverBlocks(t *testing.T) {
	// The orchestrator signals while holding its mutex and nobody may be
	// reading; repeated signals must coalesce instead of blocking.
	_, hub := newTestHub(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.StateChanged()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StateChanged blocked without a running hub")
	}
}

func TestBroadcastDeliversLatestState(t *testing.T) {
	game, hub := newTestHub(t)
	go hub.run()

	client := &Client{send: make(chan any, 8), playerID: "p1"}
	hub.register <- client

	mustJoin(t, game, "p1", "Алиса")

	// Rapid back-to-back changes; the client must end up on the final
	// state, never stuck on an earlier snapshot.
	for _, target := range []int{5, 7, 42} {
		v := target
		if err := game.ApplySettings("p1", SettingsUpdate{TargetScore: &v}); err != nil {
			t.Fatalf("apply settings: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-client.send:
			view, ok := msg.(StateView)
			if ok && view.You == "p1" && view.Settings.TargetScore == 42 {
				return
			}
		case <-deadline:
			t.Fatal("latest state never reached the client")
		}
	}
}
