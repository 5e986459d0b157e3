package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlowControlClaimAndAssign(t *testing.T) {
	var fc FlowControl
	fc.AssignCapacity(100)
	require.EqualValues(t, 100, fc.Available())

	require.NoError(t, fc.ClaimCapacity(60))
	require.EqualValues(t, 40, fc.Available())

	err := fc.ClaimCapacity(41)
	require.Error(t, err)
	require.EqualValues(t, 40, fc.Available(), "a failed claim must not touch available")
}

func TestFlowControlSendDataShrinksWindowAndAvailable(t *testing.T) {
	var fc FlowControl
	require.NoError(t, fc.IncWindow(1000))
	fc.AssignCapacity(1000)

	require.NoError(t, fc.SendData(300))
	require.EqualValues(t, 700, fc.Window())
	require.EqualValues(t, 700, fc.Available())

	require.ErrorIs(t, fc.SendData(701), ErrFlowControl)
}

func TestFlowControlSendDataClampsAvailableAtZero(t *testing.T) {
	var fc FlowControl
	require.NoError(t, fc.IncWindow(500))
	fc.AssignCapacity(100)

	require.NoError(t, fc.SendData(300))
	require.EqualValues(t, 0, fc.Available())
	require.EqualValues(t, 200, fc.Window())
}

func TestFlowControlUnclaimedCapacity(t *testing.T) {
	var fc FlowControl
	require.NoError(t, fc.IncWindow(500))
	fc.AssignCapacity(200)

	require.EqualValues(t, 300, fc.UnclaimedCapacity())
	require.True(t, fc.HasUnavailable())

	fc.AssignCapacity(300)
	require.EqualValues(t, 0, fc.UnclaimedCapacity())
	require.False(t, fc.HasUnavailable())
}

func TestFlowControlDecWindowAllowsTransientNegative(t *testing.T) {
	var fc FlowControl
	require.NoError(t, fc.IncWindow(10))
	require.NoError(t, fc.DecWindow(25))
	require.EqualValues(t, -15, fc.Window())
}

func TestFlowControlIncWindowOverflow(t *testing.T) {
	var fc FlowControl
	require.NoError(t, fc.IncWindow(maxWindowSize))
	require.ErrorIs(t, fc.IncWindow(1), ErrFlowControl)
}
