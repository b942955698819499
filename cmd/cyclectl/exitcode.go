package main

// Exit codes returned to the shell, fixed by spec.md §6.
const (
	exitOK                = 0
	exitCommandFailure    = 1 // engine rejected the request (bad state, config error, ...)
	exitUsageError        = 2 // cobra flag/arg validation failed
	exitNoRunningWorkflow = 3 // couldn't reach or talk to a scheduler at --addr
	exitNoMatchingTask    = 4 // engine reported TaskNotFound
)
