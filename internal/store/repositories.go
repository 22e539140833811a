package store

// Repositories provides access to all local store repositories
type Repositories struct {
	Sessions      *SessionRepository
	TrackStates   *TrackStateRepository
	ProgressQueue *ProgressQueueRepository
}

// NewRepositories creates a new repository collection
func NewRepositories(store *Store) *Repositories {
	return &Repositories{
		Sessions:      NewSessionRepository(store),
		TrackStates:   NewTrackStateRepository(store),
		ProgressQueue: NewProgressQueueRepository(store),
	}
}
