package chat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"relay/internal/model"
	"relay/internal/stream"
	"relay/internal/toolcall"
)

type State int

const (
	StateIdle State = iota
	StateSent
	StateStreaming
	StateToolsPending
	StateFinalizing
	StateDone
	StateErrored
)

var stateNames = [...]string{"idle", "sent", "streaming", "tools_pending", "finalizing", "done", "errored"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) Terminal() bool { return s == StateDone || s == StateErrored }

var transitions = map[State][]State{
	StateIdle:         {StateSent, StateFinalizing},
	StateSent:         {StateStreaming, StateToolsPending, StateFinalizing},
	StateStreaming:    {StateToolsPending, StateFinalizing},
	StateToolsPending: {StateSent, StateFinalizing},
	StateFinalizing:   {StateDone},
}

// CanTransition reports whether the turn state machine allows from -> to.
// Errored is reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateErrored {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type StopReason string

const (
	StopComplete   StopReason = "complete"
	StopLoopBound  StopReason = "loop_bound"
	StopMiddleware StopReason = "middleware"
)

// TurnState accumulates one turn. It is owned by the goroutine running the
// turn and never shared.
type TurnState struct {
	ID         string
	State      State
	Round      int // rounds sent so far
	Iterations int // ToolsPending -> Sent transitions
	Usage      model.Usage

	format   model.ToolCallFormat
	decoder  *stream.Decoder
	prose    []string
	results  []model.ToolCallResult
	messages []model.Message
}

func newTurnState() *TurnState {
	return &TurnState{ID: uuid.NewString(), State: StateIdle}
}

func (t *TurnState) transition(to State) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("invalid turn transition %s -> %s", t.State, to)
	}
	t.State = to
	return nil
}

func (t *TurnState) addProse(s string) {
	if s = strings.TrimSpace(s); s != "" {
		t.prose = append(t.prose, s)
	}
}

// Text is the prose of every completed round.
func (t *TurnState) Text() string {
	return strings.Join(t.prose, "\n\n")
}

// Partial is Text plus whatever the current round has streamed, without
// inline tool call markup.
func (t *TurnState) Partial() string {
	out := t.prose
	if t.decoder != nil {
		cur := t.decoder.Text()
		if t.format == model.ToolCallFormatInlineTagged {
			cur = toolcall.StripInline(cur)
		}
		if cur = strings.TrimSpace(cur); cur != "" {
			out = append(append([]string(nil), out...), cur)
		}
	}
	return strings.Join(out, "\n\n")
}

// Result is a finished turn.
type Result struct {
	TurnID      string
	Text        string
	State       State
	StopReason  StopReason
	Rounds      int
	Iterations  int
	ToolResults []model.ToolCallResult
	Usage       model.Usage
	// Messages are the messages this turn added to the conversation.
	Messages []model.Message
}

// TurnError is returned when a turn ends in Errored. Partial holds the text
// produced before the failure.
type TurnError struct {
	TurnID  string
	State   State // state the turn was in when it failed
	Partial string
	Err     error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed while %s: %v", e.State, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }
