package session

import (
	"testing"
	"time"

	"github.com/voxrelay/voxrelay/pkg/llm"
)

func TestHistoryManager_AppendAndSnapshot(t *testing.T) {
	h := newHistoryManager()
	at := time.Unix(1700000000, 0)

	h.appendUser("t1", "hello", at)
	h.appendAssistant("t1", "hi there", false, at.Add(time.Second))

	turns := h.snapshot()
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Role != llm.RoleUser || turns[0].Text != "hello" {
		t.Fatalf("turns[0] = %+v, want user hello", turns[0])
	}
	if turns[1].Role != llm.RoleAssistant || turns[1].Text != "hi there" || turns[1].Partial {
		t.Fatalf("turns[1] = %+v, want complete assistant turn", turns[1])
	}
	if turns[0].ID != "t1" || turns[1].ID != "t1" {
		t.Fatalf("turn ids = %q/%q, want both t1", turns[0].ID, turns[1].ID)
	}
	if h.size() != 2 {
		t.Fatalf("size() = %d, want 2", h.size())
	}

	// Mutating the snapshot must not touch the manager.
	turns[0].Text = "mutated"
	if h.snapshot()[0].Text != "hello" {
		t.Fatalf("snapshot aliases internal storage")
	}
}

func TestHistoryManager_PartialTurn(t *testing.T) {
	h := newHistoryManager()
	h.appendUser("t1", "question", time.Now())
	h.appendAssistant("t1", "partial ans", true, time.Now())

	turns := h.snapshot()
	if !turns[1].Partial {
		t.Fatalf("assistant turn not marked partial")
	}
}

func TestHistoryManager_ClearIsTrueReset(t *testing.T) {
	h := newHistoryManager()
	h.appendUser("t1", "one", time.Now())
	h.appendAssistant("t1", "two", false, time.Now())
	h.clear()

	if h.size() != 0 {
		t.Fatalf("size() after clear = %d, want 0", h.size())
	}

	h.appendUser("t2", "three", time.Now())
	fresh := newHistoryManager()
	fresh.appendUser("t2", "three", time.Now())

	got := h.window(10)
	want := fresh.window(10)
	if len(got) != len(want) {
		t.Fatalf("window lengths differ: %d vs %d", len(got), len(want))
	}
	for i := range got {
		if got[i].Role != want[i].Role || got[i].Text != want[i].Text {
			t.Fatalf("window[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHistoryManager_WindowLimitsToLastN(t *testing.T) {
	h := newHistoryManager()
	h.appendUser("t1", "a", time.Now())
	h.appendAssistant("t1", "b", false, time.Now())
	h.appendUser("t2", "c", time.Now())
	h.appendAssistant("t2", "d", false, time.Now())

	got := h.window(2)
	if len(got) != 2 {
		t.Fatalf("len(window(2)) = %d, want 2", len(got))
	}
	if got[0].Text != "c" || got[1].Text != "d" {
		t.Fatalf("window(2) = %+v, want last two turns", got)
	}

	if n := len(h.window(0)); n != 4 {
		t.Fatalf("len(window(0)) = %d, want all 4", n)
	}
}

func TestHistoryManager_WindowSkipsEmptyTurns(t *testing.T) {
	h := newHistoryManager()
	h.appendUser("t1", "ask", time.Now())
	h.appendAssistant("t1", "", true, time.Now())
	h.appendUser("t2", "again", time.Now())

	got := h.window(10)
	if len(got) != 2 {
		t.Fatalf("len(window) = %d, want 2 (empty turn skipped)", len(got))
	}
	if got[0].Text != "ask" || got[1].Text != "again" {
		t.Fatalf("window = %+v", got)
	}
	if h.size() != 3 {
		t.Fatalf("size() = %d, want 3 (empty turn still recorded)", h.size())
	}
}
