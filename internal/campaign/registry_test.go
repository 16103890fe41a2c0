package campaign

import (
	"context"
	"testing"
	"time"

	"followcast/internal/xclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecondSubmissionIsRejectedWhileRunning(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	h.msgr.block = make(chan struct{})
	reg := NewRegistry(context.Background(), h.runner)

	run, err := reg.Submit(Descriptor{Account: "me", Message: "hello", Count: intp(2)})
	require.NoError(t, err)
	assert.True(t, reg.Running("me"))

	_, err = reg.Submit(Descriptor{Account: "me", Message: "another message"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(h.msgr.block)
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.False(t, reg.Running("me"))
	last, ok := reg.Last("me")
	require.True(t, ok)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, StateCompleted, last.Snapshot().State)
	assert.Equal(t, EventStopped, h.events.Types()[len(h.events.Types())-1])

	again, err := reg.Submit(Descriptor{Account: "me", Message: "hello", Count: intp(1)})
	require.NoError(t, err)
	<-again.Done()
	assert.NotEqual(t, run.ID, again.ID)
	assert.True(t, reg.Wait(time.Second))
}

func TestSubmitRejectedWhileIngesting(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	reg := NewRegistry(context.Background(), h.runner)
	reg.Busy = func(account string) bool { return account == "me" }

	_, err := reg.Submit(Descriptor{Account: "me", Message: "hello"})
	assert.ErrorIs(t, err, ErrIngestionRunning)
	_, ok := reg.Last("me")
	assert.False(t, ok)
}

func TestSubmitRejectsInvalidDescriptor(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	reg := NewRegistry(context.Background(), h.runner)
	_, err := reg.Submit(Descriptor{Account: "me"})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.False(t, reg.Running("me"))
}

func TestShutdownAbortsRun(t *testing.T) {
	h := newHarness(t, xclient.AccessReadWriteDirectM)
	h.msgr.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewRegistry(ctx, h.runner)

	run, err := reg.Submit(Descriptor{Account: "me", Message: "hello"})
	require.NoError(t, err)
	cancel()
	<-run.Done()
	snap := run.Snapshot()
	assert.Equal(t, StateAborted, snap.State)
	assert.Contains(t, snap.Error, "context canceled")
	require.NotNil(t, snap.FinishedAt)
}
