package notify_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/speechblobs/internal/notify"
)

func TestCenter_ShowReplacesCurrent(t *testing.T) {
	c := notify.NewCenter(-1)
	var mu sync.Mutex
	var seen []string
	c.OnChange(func(n *notify.Notification) {
		mu.Lock()
		defer mu.Unlock()
		if n == nil {
			seen = append(seen, "<cleared>")
			return
		}
		seen = append(seen, n.Message)
	})

	c.Info(notify.MsgWaiting)
	c.Info(notify.MsgRecording)
	c.Error(notify.MsgTranscriptionError)

	cur, ok := c.Current()
	if !ok || cur.Message != notify.MsgTranscriptionError || cur.Level != notify.LevelError {
		t.Fatalf("Current = %+v, %v", cur, ok)
	}

	c.Dismiss()
	if _, ok := c.Current(); ok {
		t.Error("Current after Dismiss should be empty")
	}
	c.Dismiss()

	mu.Lock()
	defer mu.Unlock()
	want := []string{notify.MsgWaiting, notify.MsgRecording, notify.MsgTranscriptionError, "<cleared>"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestCenter_Expires(t *testing.T) {
	c := notify.NewCenter(20 * time.Millisecond)
	cleared := make(chan struct{}, 1)
	c.OnChange(func(n *notify.Notification) {
		if n == nil {
			cleared <- struct{}{}
		}
	})
	c.Info("short lived")

	select {
	case <-cleared:
	case <-time.After(2 * time.Second):
		t.Fatal("notification did not expire")
	}
	if _, ok := c.Current(); ok {
		t.Error("expired notification still current")
	}
}

func TestCenter_ReplacedNotificationDoesNotExpireSuccessor(t *testing.T) {
	c := notify.NewCenter(300 * time.Millisecond)
	c.Info("first")
	time.Sleep(200 * time.Millisecond)
	c.Info("second")
	time.Sleep(150 * time.Millisecond)

	cur, ok := c.Current()
	if !ok || cur.Message != "second" {
		t.Errorf("Current = %+v, %v; the first timer must not clear the second", cur, ok)
	}
}

func TestLevel_String(t *testing.T) {
	if notify.LevelInfo.String() != "info" || notify.LevelError.String() != "error" {
		t.Error("unexpected level names")
	}
}

func TestCenter_ListenerAddedDuringDelivery(t *testing.T) {
	c := notify.NewCenter(-1)
	var late []string
	added := false
	c.OnChange(func(n *notify.Notification) {
		if added || n == nil {
			return
		}
		added = true
		c.OnChange(func(n *notify.Notification) {
			if n != nil {
				late = append(late, n.Message)
			}
		})
	})

	c.Info("first")
	if len(late) != 0 {
		t.Fatalf("listener registered mid-delivery saw %v", late)
	}
	c.Info("second")
	if len(late) != 1 || late[0] != "second" {
		t.Errorf("late listener saw %v, want [second]", late)
	}
}
