package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventKindsAreDistinct(t *testing.T) {
	kinds := []EventKind{EventContent, EventReasoning, EventToolStart, EventToolComplete, EventUsage, EventDone, EventError}
	seen := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		require.False(t, seen[k], "duplicate kind %q", k)
		seen[k] = true
	}
}

func TestStreamEventZeroValueHasNoKind(t *testing.T) {
	var ev StreamEvent
	require.Equal(t, EventKind(""), ev.Kind)
}

type fakeStreamer struct {
	events []StreamEvent
	pos    int
}

func (f *fakeStreamer) Recv() (StreamEvent, error) {
	if f.pos >= len(f.events) {
		return StreamEvent{}, errEOF{}
	}
	ev := f.events[f.pos]
	f.pos++
	return ev, nil
}

func (f *fakeStreamer) Close() error { return nil }

type errEOF struct{}

func (errEOF) Error() string { return "EOF" }

func TestStreamerDrainsInOrder(t *testing.T) {
	s := &fakeStreamer{events: []StreamEvent{
		{Kind: EventContent, Delta: "a"},
		{Kind: EventContent, Delta: "b"},
	}}
	var got []string
	for {
		ev, err := s.Recv()
		if err != nil {
			break
		}
		got = append(got, ev.Delta)
	}
	require.Equal(t, []string{"a", "b"}, got)
	require.NoError(t, s.Close())
}
