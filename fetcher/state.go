package fetcher

// LoadingState is the per (consumer, resource name) position in the
// loading state machine.
//
// pending: required input fields are not yet available.
// loading: dependencies are met and a fetch is outstanding.
// loaded/error: terminal until the input changes or a refetch is asked.
//
// loading is re-enterable from loaded and error; lazy resources enter
// loaded directly and only ever visit loading once promoted to a real
// fetch.
type LoadingState string

const (
	StatePending LoadingState = "pending"
	StateLoading LoadingState = "loading"
	StateLoaded  LoadingState = "loaded"
	StateError   LoadingState = "error"
)

func (s LoadingState) Pending() bool {
	return s == StatePending
}

func (s LoadingState) Loading() bool {
	return s == StateLoading
}

func (s LoadingState) Loaded() bool {
	return s == StateLoaded
}

func (s LoadingState) Errored() bool {
	return s == StateError
}
