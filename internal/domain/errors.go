package domain

import "errors"

var (
	// ErrEmptySeries means the data layer returned no rows at all.
	ErrEmptySeries = errors.New("empty price series")

	// ErrInsufficientData means fewer than the minimum usable bars remain
	// after indicator warm-up rows were dropped.
	ErrInsufficientData = errors.New("insufficient usable bars")

	// ErrUnorderedSeries means bar timestamps are not strictly increasing.
	ErrUnorderedSeries = errors.New("bar timestamps not strictly increasing")

	// ErrInvalidAction means an action fell outside the declared action space.
	ErrInvalidAction = errors.New("invalid action")

	// ErrCorruptObservation means a non-finite value reached an observation.
	ErrCorruptObservation = errors.New("corrupt observation")

	// ErrEpisodeFinished means Step was called on a finished or aborted
	// episode without an intervening Reset.
	ErrEpisodeFinished = errors.New("episode finished; reset required")

	// ErrUnsupportedAlgorithm means an unknown learning algorithm was requested.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrTrainingInProgress means a training run is already active in this process.
	ErrTrainingInProgress = errors.New("training already in progress")
)
