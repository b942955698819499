package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitFromErrorMapsSpecCodes(t *testing.T) {
	require.Equal(t, exitCommandFailure, exitFromError(rejected(errors.New("bad state"))))
	require.Equal(t, exitNoMatchingTask, exitFromError(notFound(errors.New("no such task"))))
	require.Equal(t, exitNoRunningWorkflow, exitFromError(transportErr(errors.New("dial tcp: connection refused"))))
	require.Equal(t, exitUsageError, exitFromError(errors.New("cobra flag validation failure")))
}
