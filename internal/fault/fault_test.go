package fault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageCarriesBoardAndPhase(t *testing.T) {
	err := Newf(ConsoleTimeout, "rpi3-01", PhaseBoot, "no prompt after %s", "30s")
	assert.Equal(t, "ConsoleTimeout: board rpi3-01 (boot): no prompt after 30s", err.Error())
}

func TestKindOfFindsWrappedError(t *testing.T) {
	base := New(IPAcquisitionFailed, "rpi3-01", PhaseBoot, errors.New("no inet token"))
	wrapped := Wrap(base, DeploymentStepFailure, "rpi3-01", PhaseDeploy, "outer")

	assert.Equal(t, DeploymentStepFailure, KindOf(wrapped))
	assert.True(t, Is(wrapped, IPAcquisitionFailed))
	assert.True(t, Is(wrapped, DeploymentStepFailure))
	assert.False(t, Is(wrapped, ConsoleTimeout))
}

func TestIsLooksIntoJoinedErrors(t *testing.T) {
	joined := errors.Join(
		New(TestExecutionFailure, "b", PhaseRun, errors.New("exit 1")),
		New(ResultFetchFailure, "b", PhaseHarvest, nil),
	)
	assert.True(t, Is(joined, ResultFetchFailure))
	assert.True(t, Is(joined, TestExecutionFailure))
	assert.False(t, Is(joined, ReservationFailure))
}

func TestWrapNilStaysNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, PowerFailure, "b", PhaseBoot, "power"))
	assert.Equal(t, Kind(""), KindOf(nil))
}
