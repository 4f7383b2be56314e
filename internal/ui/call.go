package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/negotiation"
	"github.com/BioHazard786/warpcall/internal/room"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// CallPhase is what the call screen is showing
type CallPhase int

const (
	PhaseNegotiating CallPhase = iota
	PhaseConnected
	PhaseFailed
	PhaseHungUp
)

// CallUpdate is a message sent from session hooks to update the UI
type CallUpdate struct {
	Type    CallUpdateType
	State   negotiation.State
	Message string
	Error   error
}

type CallUpdateType int

const (
	UpdateState CallUpdateType = iota
	UpdateWarning
	UpdateLink
	UpdatePeer
	UpdateFailed
)

// negotiationSteps lists the states each role passes through, in order.
var negotiationSteps = map[room.Role][]negotiation.State{
	room.Offerer: {
		negotiation.StateLocalDescriptionPending,
		negotiation.StateLocalDescriptionReady,
		negotiation.StatePublished,
		negotiation.StateRemoteDescriptionApplied,
		negotiation.StateCandidatesFlushed,
	},
	room.Answerer: {
		negotiation.StateLocalDescriptionPending,
		negotiation.StateLocalDescriptionReady,
		negotiation.StateAnswerSent,
		negotiation.StateRemoteDescriptionApplied,
		negotiation.StateCandidatesFlushed,
	},
}

// CallModel is the Bubble Tea model for a call in progress
type CallModel struct {
	roomID string
	role   room.Role

	phase    CallPhase
	state    negotiation.State
	step     int
	link     string
	peer     string
	warnings []string
	err      error

	bar     progress.Model
	spinner spinner.Model
	started time.Time

	updates  chan CallUpdate
	quitting bool
}

// NewCallModel creates the call screen for roomID.
func NewCallModel(roomID string, role room.Role) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		roomID:  roomID,
		role:    role,
		bar:     progress.New(progress.WithGradient("#22d3ee", "#0ea5e9"), progress.WithWidth(30), progress.WithoutPercentage()),
		spinner: s,
		started: time.Now(),
		updates: make(chan CallUpdate, 64),
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdates())
}

func (m *CallModel) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.phase != PhaseFailed {
				m.phase = PhaseHungUp
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(30, msg.Width-40))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case CallUpdate:
		m.apply(msg)
		if m.phase == PhaseFailed {
			return m, tea.Quit
		}
		return m, m.waitForUpdates()
	}
	return m, nil
}

func (m *CallModel) apply(u CallUpdate) {
	switch u.Type {
	case UpdateState:
		m.state = u.State
		for i, s := range negotiationSteps[m.role] {
			if s == u.State && i+1 > m.step {
				m.step = i + 1
			}
		}
	case UpdateWarning:
		if u.Error != nil {
			m.warnings = append(m.warnings, u.Error.Error())
		}
		if len(m.warnings) > 3 {
			m.warnings = m.warnings[len(m.warnings)-3:]
		}
	case UpdateLink:
		m.link = u.Message
		if u.Message == "connected" {
			m.phase = PhaseConnected
		}
	case UpdatePeer:
		m.peer = u.Message
	case UpdateFailed:
		m.phase = PhaseFailed
		m.err = u.Error
	}
}

// Progress returns the fraction of negotiation steps completed.
func (m *CallModel) Progress() float64 {
	steps := negotiationSteps[m.role]
	if len(steps) == 0 {
		return 0
	}
	return float64(m.step) / float64(len(steps))
}

// Phase returns what the screen is currently showing.
func (m *CallModel) Phase() CallPhase { return m.phase }

func (m *CallModel) View() string {
	if m.quitting && m.phase == PhaseHungUp {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s Room %s as %s\n\n", IconCall, BoldStyle.Foreground(Primary).Render(m.roomID), m.role)

	switch m.phase {
	case PhaseFailed:
		msg := "negotiation failed"
		if m.err != nil {
			msg = m.err.Error()
		}
		b.WriteString(ErrorBoxStyle.Render(fmt.Sprintf("%s %s", IconError, msg)))
		b.WriteString("\n")
		return b.String()
	case PhaseConnected:
		fmt.Fprintf(&b, "%s %s\n", SuccessStyle.Render(IconSuccess), SuccessStyle.Render("Connected"))
	default:
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), m.stateLabel())
	}

	fmt.Fprintf(&b, "  %s %d/%d\n", m.bar.ViewAs(m.Progress()), m.step, len(negotiationSteps[m.role]))
	if m.link != "" {
		fmt.Fprintf(&b, "  %s Link: %s\n", IconConnect, m.link)
	}
	if m.peer != "" {
		fmt.Fprintf(&b, "  %s Peer: %s\n", IconPeer, m.peer)
	}
	for _, w := range m.warnings {
		fmt.Fprintf(&b, "  %s\n", WarningStyle.Render(IconWarning+" "+w))
	}

	elapsed := time.Since(m.started).Truncate(time.Second)
	b.WriteString("\n" + MutedStyle.Render(fmt.Sprintf("%s elapsed · press q to hang up", elapsed)))
	return b.String()
}

func (m *CallModel) stateLabel() string {
	switch m.state {
	case negotiation.StateIdle:
		if m.role == room.Answerer {
			return "Waiting for the offer..."
		}
		return "Starting..."
	case negotiation.StateLocalDescriptionPending:
		return "Creating session description..."
	case negotiation.StateLocalDescriptionReady:
		return "Applying session description..."
	case negotiation.StatePublished:
		return "Offer sent, waiting for the answer..."
	case negotiation.StateAnswerSent, negotiation.StateRemoteDescriptionApplied:
		return "Exchanging candidates..."
	case negotiation.StateCandidatesFlushed:
		return "Connecting..."
	default:
		return m.state.String()
	}
}

// CallUI runs a CallModel in its own goroutine
type CallUI struct {
	model   *CallModel
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

// NewCallUI creates the UI for a call in roomID.
func NewCallUI(roomID string, role room.Role) *CallUI {
	return &CallUI{model: NewCallModel(roomID, role), done: make(chan struct{})}
}

// Start starts the UI in a goroutine
func (ui *CallUI) Start() {
	ui.program = tea.NewProgram(ui.model)
	go func() {
		defer close(ui.done)
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Done is closed when the UI exits, either on hang up or on failure.
func (ui *CallUI) Done() <-chan struct{} { return ui.done }

// Failed reports whether the UI exited because the call failed. Only
// meaningful once Done is closed.
func (ui *CallUI) Failed() bool { return ui.model.phase == PhaseFailed }

// send drops updates while the buffer is full, except failures, which
// evict the oldest pending update so the UI always learns the call ended.
func (ui *CallUI) send(u CallUpdate) {
	for {
		select {
		case ui.model.updates <- u:
			return
		case <-ui.done:
			return
		default:
		}
		if u.Type != UpdateFailed {
			return
		}
		select {
		case <-ui.model.updates:
		default:
		}
	}
}

// Hooks returns session hooks that drive the UI.
func (ui *CallUI) Hooks() negotiation.Hooks {
	return negotiation.Hooks{
		StateChanged: func(s negotiation.State) { ui.send(CallUpdate{Type: UpdateState, State: s}) },
		Warning:      func(err error) { ui.send(CallUpdate{Type: UpdateWarning, Error: err}) },
		Failed:       func(err error) { ui.send(CallUpdate{Type: UpdateFailed, Error: err}) },
	}
}

// SetLink shows the peer connection state.
func (ui *CallUI) SetLink(state string) {
	ui.send(CallUpdate{Type: UpdateLink, Message: state})
}

// SetPeer shows who is on the other end.
func (ui *CallUI) SetPeer(name string) {
	ui.send(CallUpdate{Type: UpdatePeer, Message: name})
}

// Stop stops the UI
func (ui *CallUI) Stop() {
	ui.once.Do(func() {
		if ui.program != nil {
			ui.program.Quit()
			<-ui.done
		}
	})
}
