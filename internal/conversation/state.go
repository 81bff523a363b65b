// Package conversation holds the message history of one research run.
package conversation

import "github.com/nichescout/nichescout/internal/llm"

// State is the append-only history of a run plus the last routing choice.
// A State belongs to exactly one run and is only touched by that run's turn
// loop, so it carries no lock.
type State struct {
	messages []llm.Message
	next     string
}

// New seeds a state with the user's niche description.
func New(niche string) *State {
	return &State{messages: []llm.Message{llm.Human("", niche)}}
}

// FromMessages rebuilds a state from persisted history.
func FromMessages(msgs []llm.Message) *State {
	s := &State{messages: make([]llm.Message, len(msgs))}
	copy(s.messages, msgs)
	return s
}

func (s *State) Append(msgs ...llm.Message) {
	s.messages = append(s.messages, msgs...)
}

// Messages returns a copy of the history in chronological order.
func (s *State) Messages() []llm.Message {
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *State) Len() int {
	return len(s.messages)
}

// Last returns the newest message, if any.
func (s *State) Last() (llm.Message, bool) {
	if len(s.messages) == 0 {
		return llm.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Named returns the messages produced by name, oldest first.
func (s *State) Named(name string) []llm.Message {
	var out []llm.Message
	for _, m := range s.messages {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

func (s *State) Next() string {
	return s.next
}

func (s *State) SetNext(next string) {
	s.next = next
}
