package ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/BioHazard786/warpcall/internal/negotiation"
	"github.com/BioHazard786/warpcall/internal/room"
	"github.com/BioHazard786/warpcall/internal/signaling"
	tea "github.com/charmbracelet/bubbletea"
)

func TestCallModelProgress(t *testing.T) {
	m := NewCallModel("ABC1", room.Offerer)
	steps := []negotiation.State{
		negotiation.StateLocalDescriptionPending,
		negotiation.StateLocalDescriptionReady,
		negotiation.StatePublished,
		negotiation.StateRemoteDescriptionApplied,
		negotiation.StateCandidatesFlushed,
	}
	for i, s := range steps {
		m.Update(CallUpdate{Type: UpdateState, State: s})
		want := float64(i+1) / float64(len(steps))
		if got := m.Progress(); got != want {
			t.Fatalf("after %s progress = %v, want %v", s, got, want)
		}
	}
	if !strings.Contains(m.View(), "5/5") {
		t.Fatalf("view missing step count:\n%s", m.View())
	}

	// An answerer never passes through Published.
	a := NewCallModel("ABC1", room.Answerer)
	a.Update(CallUpdate{Type: UpdateState, State: negotiation.StatePublished})
	if a.Progress() != 0 {
		t.Fatalf("answerer progress = %v", a.Progress())
	}
}

func TestCallModelFailureQuits(t *testing.T) {
	m := NewCallModel("ABC1", room.Answerer)
	_, cmd := m.Update(CallUpdate{Type: UpdateFailed, Error: errors.New("engine set-remote: bad sdp")})
	if m.Phase() != PhaseFailed {
		t.Fatalf("phase = %v", m.Phase())
	}
	if cmd == nil {
		t.Fatal("no quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("failure did not quit")
	}
	if !strings.Contains(m.View(), "bad sdp") {
		t.Fatalf("view missing error:\n%s", m.View())
	}
}

func TestCallModelConnectedAndHangUp(t *testing.T) {
	m := NewCallModel("ABC1", room.Offerer)
	m.Update(CallUpdate{Type: UpdateLink, Message: "checking"})
	if m.Phase() != PhaseNegotiating {
		t.Fatal("checking counted as connected")
	}
	m.Update(CallUpdate{Type: UpdateLink, Message: "connected"})
	m.Update(CallUpdate{Type: UpdatePeer, Message: "laptop"})
	view := m.View()
	if m.Phase() != PhaseConnected || !strings.Contains(view, "Connected") || !strings.Contains(view, "laptop") {
		t.Fatalf("phase %v view:\n%s", m.Phase(), view)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if m.Phase() != PhaseHungUp || m.View() != "" {
		t.Fatalf("hang up left phase %v", m.Phase())
	}
}

func TestCallModelKeepsLastWarnings(t *testing.T) {
	m := NewCallModel("ABC1", room.Answerer)
	for i := range 5 {
		m.Update(CallUpdate{Type: UpdateWarning, Error: errors.New(strings.Repeat("w", i+1))})
	}
	if len(m.warnings) != 3 || m.warnings[0] != "www" {
		t.Fatalf("warnings = %v", m.warnings)
	}
}

func TestRoomTableView(t *testing.T) {
	doc := &signaling.Document{
		RoomID:  "ABC1",
		Version: 7,
		Fields: signaling.Fields{
			"participantCount": int64(2),
			"sdpOffer":         strings.Repeat("v", 100),
			"iceOffer":         []any{map[string]any{"candidate": "x"}},
		},
	}
	out := RoomTableView(doc)
	for _, want := range []string{"ABC1", "version 7", "participantCount", "1 entries", "(100 bytes)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "iceOffer") > strings.Index(out, "sdpOffer") {
		t.Fatal("fields not sorted")
	}

	list := RoomListView([]*signaling.Document{doc})
	if !strings.Contains(list, "ABC1") {
		t.Fatalf("list:\n%s", list)
	}
}

func TestSpinnerFinishesOnce(t *testing.T) {
	sp := NewConnectionSpinner("Connecting to server...")
	sp.Start()
	sp.UpdateMessage("Joining room ABC1...")
	sp.mu.Lock()
	msg := sp.message
	sp.mu.Unlock()
	if msg != "Joining room ABC1..." {
		t.Fatalf("message = %q", msg)
	}

	sp.Success("Joined room ABC1 as offerer")
	// A second outcome or Stop must not close done twice.
	sp.Error("Could not join room ABC1")
	sp.Stop()
	if !sp.stopped {
		t.Fatal("spinner still running")
	}

	stop := RunSpinner("Fetching rooms...")
	stop()
	stop()
}

func TestFailureSurvivesFullBuffer(t *testing.T) {
	ui := NewCallUI("ABC1", room.Offerer)
	for range cap(ui.model.updates) + 10 {
		ui.SetLink("checking")
	}
	if len(ui.model.updates) != cap(ui.model.updates) {
		t.Fatalf("buffer holds %d updates", len(ui.model.updates))
	}

	ui.Hooks().Failed(errors.New("signaling lost"))

	var failed bool
	for len(ui.model.updates) > 0 {
		if u := <-ui.model.updates; u.Type == UpdateFailed {
			failed = true
		}
	}
	if !failed {
		t.Fatal("failure update dropped")
	}
}
