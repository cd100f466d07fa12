package cmdqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roost/internal/models"
	"roost/internal/registry"
)

func fixture(t *testing.T, deviceIDs ...string) *Service {
	t.Helper()
	reg := registry.NewService(registry.NewMemStore(), registry.Options{})
	for _, id := range deviceIDs {
		_, _, err := reg.Register(registry.RegisterInput{DeviceID: id})
		require.NoError(t, err)
	}
	return NewService(NewMemStore(), reg)
}

// TestEnqueue_UnknownDevice tests refusal for unregistered devices.
func TestEnqueue_UnknownDevice(t *testing.T) {
	svc := fixture(t)

	_, err := svc.Enqueue(EnqueueInput{DeviceID: "ghost", Kind: "reboot"})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	_, err = svc.Enqueue(EnqueueInput{DeviceID: "ghost"})
	assert.ErrorIs(t, err, ErrInvalidCommand, "kind validated first-class")
}

// TestPollPending_PriorityOrder tests that priorities 5, 1, 3 come back
// as 1, 3, 5.
func TestPollPending_PriorityOrder(t *testing.T) {
	// Setup
	svc := fixture(t, "node-1")
	for _, p := range []int{5, 1, 3} {
		prio := p
		_, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "set-level", Priority: &prio})
		require.NoError(t, err)
	}

	// Execute
	cmds, err := svc.PollPending("node-1", 0)

	// Assert
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, []int{1, 3, 5}, []int{cmds[0].Priority, cmds[1].Priority, cmds[2].Priority})
}

// TestPollPending_TieBreakOldestFirst tests creation-order tie-break
// within one priority.
func TestPollPending_TieBreakOldestFirst(t *testing.T) {
	// Setup
	svc := fixture(t, "node-1")
	first, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "a"})
	require.NoError(t, err)
	second, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "b"})
	require.NoError(t, err)

	// Execute
	cmds, err := svc.PollPending("node-1", 0)

	// Assert
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, first.CommandID, cmds[0].CommandID)
	assert.Equal(t, second.CommandID, cmds[1].CommandID)
}

// TestPollPending_ReadOnly tests that polling changes nothing: two polls
// see the same queue.
func TestPollPending_ReadOnly(t *testing.T) {
	// Setup
	svc := fixture(t, "node-1")
	_, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "reboot"})
	require.NoError(t, err)

	// Execute
	one, err := svc.PollPending("node-1", 0)
	require.NoError(t, err)
	two, err := svc.PollPending("node-1", 0)
	require.NoError(t, err)

	// Assert
	require.Len(t, one, 1)
	require.Len(t, two, 1)
	assert.Equal(t, one[0].CommandID, two[0].CommandID)
	assert.Zero(t, two[0].Attempts, "poll does not count as delivery")
}

// TestMarkDelivered_BoundedRetries tests the attempts ceiling: with
// max_attempts 3 the third unacked delivery fails the command and the
// fourth is a no-op.
func TestMarkDelivered_BoundedRetries(t *testing.T) {
	// Setup
	svc := fixture(t, "node-1")
	max := 3
	c, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "reboot", MaxAttempts: &max})
	require.NoError(t, err)

	// Execute: three delivery attempts, never acked
	for i := 1; i <= 2; i++ {
		got, err := svc.MarkDelivered(c.CommandID)
		require.NoError(t, err)
		assert.Equal(t, i, got.Attempts)
		assert.Equal(t, models.CommandDelivered, got.Status)
	}
	got, err := svc.MarkDelivered(c.CommandID)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, models.CommandFailed, got.Status)

	// Fourth confirmation: no resurrect, no counter bump
	again, err := svc.MarkDelivered(c.CommandID)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Attempts)
	assert.Equal(t, models.CommandFailed, again.Status)

	// Failed commands stop appearing in polls
	cmds, err := svc.PollPending("node-1", 0)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

// TestDeviceRoundTrip_AckDrainsQueue tests the whole device cycle: a
// registered device goes online on heartbeat, drains its queue through
// poll and ack, and falls offline once heartbeats stop.
func TestDeviceRoundTrip_AckDrainsQueue(t *testing.T) {
	// Setup
	reg := registry.NewService(registry.NewMemStore(), registry.Options{OfflineThreshold: 30 * time.Second})
	svc := NewService(NewMemStore(), reg)

	d, _, err := reg.Register(registry.RegisterInput{DeviceID: "s1", DeviceType: "thermo"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, d.Status)

	d, err = reg.Touch("s1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, d.Status)

	// Execute
	prio := 1
	c, err := svc.Enqueue(EnqueueInput{DeviceID: "s1", Kind: "restart", Priority: &prio})
	require.NoError(t, err)

	cmds, err := svc.PollPending("s1", 0)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, c.CommandID, cmds[0].CommandID)

	_, err = svc.Ack(c.CommandID, "")
	require.NoError(t, err)

	// Assert: acked rows leave the poll set
	cmds, err = svc.PollPending("s1", 0)
	require.NoError(t, err)
	assert.Empty(t, cmds)

	// delivered rows leave it too; the device holds the copy it fetched
	c2, err := svc.Enqueue(EnqueueInput{DeviceID: "s1", Kind: "upgrade"})
	require.NoError(t, err)
	_, err = svc.MarkDelivered(c2.CommandID)
	require.NoError(t, err)
	cmds, err = svc.PollPending("s1", 0)
	require.NoError(t, err)
	assert.Empty(t, cmds)

	demoted, err := reg.SweepLiveness(time.Now().Add(31 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, demoted)
	d, err = reg.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, d.Status)
}

// TestAck_Idempotent tests that re-acking keeps the first result.
func TestAck_Idempotent(t *testing.T) {
	// Setup
	svc := fixture(t, "node-1")
	c, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "read-sensor"})
	require.NoError(t, err)
	_, err = svc.MarkDelivered(c.CommandID)
	require.NoError(t, err)

	// Execute
	first, err := svc.Ack(c.CommandID, `{"ok": true}`)
	require.NoError(t, err)
	second, err := svc.Ack(c.CommandID, `{"ok": "ignored"}`)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, models.CommandAcked, first.Status)
	assert.Equal(t, first.Result, second.Result, "second ack is a no-op")
	assert.Equal(t, first.ExecutedAt, second.ExecutedAt)

	_, err = svc.Ack("no-such-command", "")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

// TestFail_Terminal tests explicit failure and that terminal state wins
// over late acks.
func TestFail_Terminal(t *testing.T) {
	// Setup
	svc := fixture(t, "node-1")
	c, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "update"})
	require.NoError(t, err)

	// Execute
	failed, err := svc.Fail(c.CommandID, "unsupported kind")
	require.NoError(t, err)

	// Assert
	assert.Equal(t, models.CommandFailed, failed.Status)
	assert.Equal(t, "unsupported kind", failed.Result)

	late, err := svc.Ack(c.CommandID, "too late")
	require.NoError(t, err)
	assert.Equal(t, models.CommandFailed, late.Status, "terminal stays terminal")
	assert.Equal(t, "unsupported kind", late.Result)
}

// TestPollPending_SkipsExpired tests that expired commands are invisible
// to devices.
func TestPollPending_SkipsExpired(t *testing.T) {
	// Setup
	svc := fixture(t, "node-1")
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	_, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "stale", ExpiresAt: &past})
	require.NoError(t, err)
	live, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "fresh", ExpiresAt: &future})
	require.NoError(t, err)

	// Execute
	cmds, err := svc.PollPending("node-1", 0)

	// Assert
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, live.CommandID, cmds[0].CommandID)
}

// TestPollPending_Limit tests the batch cap.
func TestPollPending_Limit(t *testing.T) {
	// Setup
	svc := fixture(t, "node-1")
	for i := 0; i < 5; i++ {
		_, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "tick"})
		require.NoError(t, err)
	}

	// Execute
	cmds, err := svc.PollPending("node-1", 2)

	// Assert
	require.NoError(t, err)
	assert.Len(t, cmds, 2)
}

// TestList_OperatorFilters tests the operator list view.
func TestList_OperatorFilters(t *testing.T) {
	// Setup
	svc := fixture(t, "node-1", "node-2")
	c1, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "a"})
	require.NoError(t, err)
	_, err = svc.Enqueue(EnqueueInput{DeviceID: "node-2", Kind: "b"})
	require.NoError(t, err)
	_, err = svc.Ack(c1.CommandID, "")
	require.NoError(t, err)

	// Execute + Assert
	all, err := svc.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	acked, err := svc.List(Filter{Status: models.CommandAcked})
	require.NoError(t, err)
	require.Len(t, acked, 1)
	assert.Equal(t, c1.CommandID, acked[0].CommandID)

	byDev, err := svc.List(Filter{DeviceID: "node-2"})
	require.NoError(t, err)
	assert.Len(t, byDev, 1)

	// Failed commands stay visible to operators
	failedCmd, err := svc.Enqueue(EnqueueInput{DeviceID: "node-1", Kind: "c"})
	require.NoError(t, err)
	_, err = svc.Fail(failedCmd.CommandID, "boom")
	require.NoError(t, err)

	failed, err := svc.List(Filter{Status: models.CommandFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}
