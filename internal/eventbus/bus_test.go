package eventbus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	id       string
	priority int
	types    []EventType
	calls    *[]string
	fail     bool
}

func (h *recordingHandler) ID() string           { return h.id }
func (h *recordingHandler) Handles() []EventType { return h.types }
func (h *recordingHandler) Priority() int        { return h.priority }
func (h *recordingHandler) Handle(_ context.Context, event *Event, result *Result) error {
	*h.calls = append(*h.calls, h.id)
	if h.fail {
		return fmt.Errorf("%s: boom", h.id)
	}
	result.Warnings = append(result.Warnings, h.id+" ok")
	return nil
}

func TestDispatch_CallsHandlersInPriorityOrder(t *testing.T) {
	var calls []string
	b := New()
	b.Register(&recordingHandler{id: "low", priority: 10, types: []EventType{EventCommit}, calls: &calls})
	b.Register(&recordingHandler{id: "high", priority: 1, types: []EventType{EventCommit}, calls: &calls})

	result, err := b.Dispatch(context.Background(), &Event{Type: EventCommit, Table: "t", CommitTS: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, calls)
	assert.ElementsMatch(t, []string{"high ok", "low ok"}, result.Warnings)
}

func TestDispatch_SkipsHandlersForOtherEventTypes(t *testing.T) {
	var calls []string
	b := New()
	b.Register(&recordingHandler{id: "commit-only", priority: 1, types: []EventType{EventCommit}, calls: &calls})
	b.Register(&recordingHandler{id: "compaction-only", priority: 1, types: []EventType{EventCompaction}, calls: &calls})

	_, err := b.Dispatch(context.Background(), &Event{Type: EventCommit})
	require.NoError(t, err)
	assert.Equal(t, []string{"commit-only"}, calls)
}

func TestDispatch_HandlerErrorDoesNotStopChain(t *testing.T) {
	var calls []string
	b := New()
	b.Register(&recordingHandler{id: "failing", priority: 1, types: []EventType{EventCommit}, calls: &calls, fail: true})
	b.Register(&recordingHandler{id: "following", priority: 2, types: []EventType{EventCommit}, calls: &calls})

	result, err := b.Dispatch(context.Background(), &Event{Type: EventCommit})
	require.NoError(t, err)
	assert.Equal(t, []string{"failing", "following"}, calls)
	assert.Equal(t, []string{"failing"}, result.Failed)
}

func TestDispatch_NilEventErrors(t *testing.T) {
	b := New()
	_, err := b.Dispatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestUnregister_RemovesHandler(t *testing.T) {
	var calls []string
	b := New()
	b.Register(&recordingHandler{id: "one", priority: 1, types: []EventType{EventCommit}, calls: &calls})

	assert.True(t, b.Unregister("one"))
	assert.False(t, b.Unregister("one"))
	assert.Len(t, b.Handlers(), 0)
}

func TestDispatch_ContextCanceledStopsChain(t *testing.T) {
	var calls []string
	b := New()
	b.Register(&recordingHandler{id: "one", priority: 1, types: []EventType{EventCommit}, calls: &calls})
	b.Register(&recordingHandler{id: "two", priority: 2, types: []EventType{EventCommit}, calls: &calls})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Dispatch(ctx, &Event{Type: EventCommit})
	assert.Error(t, err)
	assert.Empty(t, calls)
}
