package coordinator

import (
	"testing"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	testcases := []struct {
		state      State
		persistent bool
		event      Event
		want       State
	}{
		{NoOverride, false, EventArm, OverrideArmed},
		{OverrideArmed, false, EventArm, OverrideArmed},
		{OverrideConsumed, true, EventArm, OverrideArmed},
		{OverrideArmed, false, EventPowerOn, OverrideConsumed},
		{OverrideArmed, true, EventPowerOn, OverrideArmed},
		{NoOverride, false, EventPowerOn, NoOverride},
		{OverrideConsumed, false, EventPowerOn, OverrideConsumed},
		{OverrideConsumed, false, EventRead, NoOverride},
		{OverrideArmed, false, EventRead, OverrideArmed},
		{OverrideArmed, true, EventRead, OverrideArmed},
		{OverrideArmed, true, EventClear, NoOverride},
		{OverrideConsumed, false, EventClear, NoOverride},
	}

	for _, tc := range testcases {
		t.Run(tc.state.String()+"/"+tc.event.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, Transition(tc.state, tc.persistent, tc.event))
		})
	}
}

func TestOverlayEnabled(t *testing.T) {
	assert.Equal(t, model.BootOverrideDisabled, Overlay{}.Enabled())
	assert.Equal(t, model.BootOverrideOnce, Overlay{State: OverrideArmed}.Enabled())
	assert.Equal(t, model.BootOverrideContinuous, Overlay{State: OverrideArmed, Persistent: true}.Enabled())
	assert.Equal(t, model.BootOverrideDisabled, Overlay{State: OverrideConsumed}.Enabled())
}
