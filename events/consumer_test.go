package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/events"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// journal records what the fakes saw, in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// fakeReader hands out queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
	journal   *journal
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
		if r.journal != nil {
			r.journal.add("commit %d", m.Offset)
		}
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeHandler struct {
	mu      sync.Mutex
	changes []timeoff.RequestChange
	drops   []timeoff.RequestChange
	journal *journal

	// fail is returned by every RequestChanged of the worker.
	fail map[timeoff.WorkerID]error
	// flaky is how many RequestChanged calls of the worker fail before one succeeds.
	flaky map[timeoff.WorkerID]int
	// dropFails makes every DropChange fail.
	dropFails bool
}

func (h *fakeHandler) RequestChanged(_ context.Context, change timeoff.RequestChange) (timeoff.ChangeResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, change)
	if h.journal != nil {
		h.journal.add("apply %s", change.WorkerID)
	}
	if err := h.fail[change.WorkerID]; err != nil {
		return timeoff.ChangeResult{}, err
	}
	if h.flaky[change.WorkerID] > 0 {
		h.flaky[change.WorkerID]--
		return timeoff.ChangeResult{}, errors.New("database is locked")
	}
	return timeoff.ChangeResult{}, nil
}

func (h *fakeHandler) DropChange(_ context.Context, change timeoff.RequestChange) (timeoff.ChangeResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drops = append(h.drops, change)
	if h.journal != nil {
		h.journal.add("drop %s", change.WorkerID)
	}
	if h.dropFails {
		return timeoff.ChangeResult{}, errors.New("database is locked")
	}
	return timeoff.ChangeResult{Invalidated: []timeoff.Key{{WorkerID: change.WorkerID, LeaveTypeID: "annual", Year: 2024}}}, nil
}

func (h *fakeHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.changes)
}

func (h *fakeHandler) dropCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.drops)
}

func message(t *testing.T, offset int64, v any) kafka.Message {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Topic: events.RequestChangedTopic, Offset: offset, Value: b}
}

func deletedEvent(t *testing.T, offset int64, worker string) kafka.Message {
	return message(t, offset, events.RequestChangedEvent{
		Op: "deleted", WorkerID: worker,
		Previous: &events.RequestRefPayload{LeaveTypeID: "annual", StartDate: generic.MustParseDate("2024-01-10")},
	})
}

func runConsumer(t *testing.T, reader *fakeReader, handler *fakeHandler, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := events.NewConsumer(reader, handler)
	c.MaxAttempts = 3
	c.RetryBackoff = time.Millisecond
	c.Start(ctx)
	require.Eventually(t, until, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumer_AppliesAndCommits(t *testing.T) {
	// GIVEN a created event
	reader := &fakeReader{queue: []kafka.Message{
		message(t, 1, events.RequestChangedEvent{
			Op:       "created",
			WorkerID: "w1",
			Current: &events.RequestRefPayload{
				LeaveTypeID: "annual",
				StartDate:   generic.MustParseDate("2024-03-04"),
			},
		}),
	}}
	handler := &fakeHandler{}

	// WHEN the consumer runs
	runConsumer(t, reader, handler, func() bool { return len(reader.commits()) == 1 })

	// THEN the engine saw the change and the offset was committed
	require.Equal(t, 1, handler.count())
	change := handler.changes[0]
	assert.Equal(t, timeoff.ChangeCreated, change.Op)
	assert.Equal(t, timeoff.WorkerID("w1"), change.WorkerID)
	require.NotNil(t, change.Current)
	assert.Equal(t, timeoff.LeaveTypeID("annual"), change.Current.LeaveTypeID)
	assert.Equal(t, 2024, change.Current.StartDate.Year())
	assert.Nil(t, change.Previous)
	assert.Equal(t, []int64{1}, reader.commits())
}

func TestConsumer_SkipsPoisonMessages(t *testing.T) {
	// GIVEN an undecodable message and an invalid change
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte("{not json")},
		message(t, 2, events.RequestChangedEvent{Op: "created", WorkerID: "bad"}),
	}}
	handler := &fakeHandler{fail: map[timeoff.WorkerID]error{
		"bad": fmt.Errorf("%w: created requires current", generic.ErrInvalidChange),
	}}

	runConsumer(t, reader, handler, func() bool { return len(reader.commits()) == 2 })

	// THEN both are committed so they are not redelivered
	assert.Equal(t, []int64{1, 2}, reader.commits())
	assert.Equal(t, 1, handler.count())
}

func TestConsumer_RetriesFailedChangeBeforeMovingOn(t *testing.T) {
	// GIVEN a change that fails twice with a storage error, then a good one
	j := &journal{}
	reader := &fakeReader{journal: j, queue: []kafka.Message{
		deletedEvent(t, 1, "flaky"),
		deletedEvent(t, 2, "w2"),
	}}
	handler := &fakeHandler{journal: j, flaky: map[timeoff.WorkerID]int{"flaky": 2}}

	// WHEN the consumer runs
	runConsumer(t, reader, handler, func() bool { return len(reader.commits()) == 2 })

	// THEN the first change is applied before its offset or the next one is committed
	assert.Equal(t, []string{
		"apply flaky", "apply flaky", "apply flaky", "commit 1",
		"apply w2", "commit 2",
	}, j.list())
	assert.Zero(t, handler.dropCount())
}

func TestConsumer_DropsSnapshotsWhenRetriesRunOut(t *testing.T) {
	// GIVEN a change that always fails, followed by a good one
	j := &journal{}
	reader := &fakeReader{journal: j, queue: []kafka.Message{
		deletedEvent(t, 1, "down"),
		deletedEvent(t, 2, "w2"),
	}}
	handler := &fakeHandler{journal: j, fail: map[timeoff.WorkerID]error{
		"down": errors.New("database is locked"),
	}}

	runConsumer(t, reader, handler, func() bool { return len(reader.commits()) == 2 })

	// THEN its snapshots are dropped before any later offset is committed
	assert.Equal(t, []string{
		"apply down", "apply down", "apply down", "drop down", "commit 1",
		"apply w2", "commit 2",
	}, j.list())
	require.Equal(t, 1, handler.dropCount())
	assert.Equal(t, timeoff.WorkerID("down"), handler.drops[0].WorkerID)
}

func TestConsumer_StopsWithoutCommittingUnappliedChange(t *testing.T) {
	// GIVEN a change that cannot be applied nor dropped
	j := &journal{}
	reader := &fakeReader{journal: j, queue: []kafka.Message{
		deletedEvent(t, 1, "down"),
		deletedEvent(t, 2, "w2"),
	}}
	handler := &fakeHandler{
		journal:   j,
		fail:      map[timeoff.WorkerID]error{"down": errors.New("database is locked")},
		dropFails: true,
	}

	// WHEN the consumer is stopped while still retrying
	runConsumer(t, reader, handler, func() bool { return handler.dropCount() >= 2 })

	// THEN nothing is committed and the next message was never fetched
	assert.Empty(t, reader.commits())
	assert.NotContains(t, j.list(), "apply w2")
}

func TestRequestChangedEvent_ChangeKeepsBothSides(t *testing.T) {
	var event events.RequestChangedEvent
	raw := `{"op":"updated","worker_id":"w1",
		"previous":{"leave_type_id":"annual","start_date":"2023-12-30"},
		"current":{"leave_type_id":"study","start_date":"2024-01-02"}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &event))

	change := event.Change()

	require.NoError(t, change.Validate())
	assert.Equal(t, timeoff.LeaveTypeID("annual"), change.Previous.LeaveTypeID)
	assert.Equal(t, 2023, change.Previous.StartDate.Year())
	assert.Equal(t, timeoff.LeaveTypeID("study"), change.Current.LeaveTypeID)
}
