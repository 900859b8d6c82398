package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/metal-toolbox/vbmc/internal/configuration"
	"github.com/metal-toolbox/vbmc/internal/dispatcher"
	"github.com/metal-toolbox/vbmc/internal/log"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/dryrun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *configuration.Configuration {
	config := configuration.New()
	config.DefaultDriver = "lab"
	config.Drivers = map[string]*configuration.Driver{
		"lab": {
			Kind: "dryrun",
			DryRun: &dryrun.Options{Machines: []dryrun.Machine{
				{Name: "node-0", PowerState: model.PowerStateOff},
			}},
		},
		"spare": {
			Kind:   "dryrun",
			DryRun: &dryrun.Options{},
		},
	}

	return config
}

func TestNewEmulator(t *testing.T) {
	ctx := context.Background()

	e, err := newEmulator(ctx, testConfig(), log.Discard())
	require.NoError(t, err)

	defer e.Close(ctx)

	assert.Equal(t, []string{"lab", "spare"}, e.dispatcher.Drivers())

	outcome := e.dispatcher.Dispatch(ctx, dispatcher.GetPowerState(), dispatcher.SystemRef{ID: "node-0"})
	require.True(t, outcome.OK(), outcome.Detail)
	assert.Equal(t, model.PowerStateOff, outcome.Result)

	outcome = e.dispatcher.Dispatch(ctx, dispatcher.GetPowerState(), dispatcher.SystemRef{Driver: "spare", ID: "node-0"})
	assert.Equal(t, model.KindNotFound, outcome.Kind)
}

func TestNewEmulatorErrors(t *testing.T) {
	config := testConfig()
	config.Identity.CollisionPolicy = "random"

	_, err := newEmulator(context.Background(), config, log.Discard())
	assert.Error(t, err)

	config = testConfig()
	config.Drivers["broken"] = &configuration.Driver{Kind: "openstack"}

	_, err = newEmulator(context.Background(), config, log.Discard())
	assert.ErrorIs(t, err, model.ErrConfig)
}

func TestRender(t *testing.T) {
	outcome := model.Succeeded("node-0")

	buf := &bytes.Buffer{}
	require.NoError(t, render(buf, outputJSON, outcome))
	assert.JSONEq(t, `{"status":"Success","result":"node-0"}`, buf.String())

	buf.Reset()
	require.NoError(t, render(buf, outputYAML, outcome))
	assert.Equal(t, "status: Success\nresult: node-0\n", buf.String())
}

func TestFailure(t *testing.T) {
	assert.NoError(t, failure(model.Succeeded(nil)))

	err := failure(model.OutcomeOf(nil, model.ErrNotFound))
	assert.ErrorIs(t, err, errOperationFailed)
	assert.Contains(t, err.Error(), string(model.KindNotFound))
}
