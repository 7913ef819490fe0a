package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infusephp/billing/pkg/billing"
)

func TestApplyUpdate_RejectsNotChargedChanges(t *testing.T) {
	e := &billing.Entity{ID: "e1"}

	_, err := billing.ApplyUpdate(e, billing.Update{NotCharged: ptrTo(true)}, testNow.Unix())
	require.ErrorIs(t, err, billing.ErrNotChargedImmutable)
	assert.False(t, e.NotCharged, "entity must be untouched after a rejected update")

	// Rejected even when combined with otherwise valid fields.
	_, err = billing.ApplyUpdate(e, billing.Update{
		Plan:       ptrTo("gold"),
		NotCharged: ptrTo(false),
	}, testNow.Unix())
	require.ErrorIs(t, err, billing.ErrNotChargedImmutable)
	assert.Empty(t, e.Plan)
}

func TestApplyUpdate_StampsCanceledAtOnce(t *testing.T) {
	now := testNow.Unix()
	e := &billing.Entity{ID: "e1"}

	eff, err := billing.ApplyUpdate(e, billing.Update{Canceled: ptrTo(true)}, now)
	require.NoError(t, err)
	require.NotNil(t, eff.CanceledAt)
	assert.Equal(t, now, *eff.CanceledAt)
	assert.Equal(t, now, e.CanceledAt)

	// A second cancellation of an already-canceled entity does not restamp.
	later := now + 500
	eff, err = billing.ApplyUpdate(e, billing.Update{Canceled: ptrTo(true)}, later)
	require.NoError(t, err)
	assert.Nil(t, eff.CanceledAt)
	assert.Equal(t, now, e.CanceledAt)
}

func TestApplyUpdate_PrefersProvidedCanceledAt(t *testing.T) {
	e := &billing.Entity{ID: "e1"}
	processorTime := testNow.Unix() - 3600

	eff, err := billing.ApplyUpdate(e, billing.Update{
		Canceled:   ptrTo(true),
		CanceledAt: ptrTo(processorTime),
	}, testNow.Unix())
	require.NoError(t, err)
	require.NotNil(t, eff.CanceledAt)
	assert.Equal(t, processorTime, *eff.CanceledAt)
	assert.Equal(t, processorTime, e.CanceledAt)
}

func TestApplyUpdate_CopiesFields(t *testing.T) {
	e := &billing.Entity{ID: "e1", Plan: "bronze"}

	_, err := billing.ApplyUpdate(e, billing.Update{
		Plan:       ptrTo("silver"),
		RenewsNext: ptrTo(int64(12345)),
		PastDue:    ptrTo(true),
	}, testNow.Unix())
	require.NoError(t, err)

	assert.Equal(t, "silver", e.Plan)
	assert.Equal(t, int64(12345), e.RenewsNext)
	assert.True(t, e.PastDue)
	assert.False(t, e.Canceled, "untouched fields keep their value")
}

func TestUpdate_IsZero(t *testing.T) {
	assert.True(t, billing.Update{}.IsZero())
	assert.False(t, billing.Update{Plan: ptrTo("x")}.IsZero())
	assert.False(t, billing.Update{LastTrialReminder: ptrTo(int64(1))}.IsZero())
}
