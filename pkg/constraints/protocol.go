package constraints

// Project statuses.
const (
	ProjectStopped = "stopped"
	ProjectRunning = "running"
	ProjectPaused  = "paused"
)

// Post statuses.
const (
	PostPending = "pending"
	PostPosted  = "posted"
	PostFailed  = "failed"
)

// Error kinds reported in the "kind" field of API error bodies.
const (
	KindValidation     = "validation"
	KindNotFound       = "not_found"
	KindForbidden      = "forbidden"
	KindConflict       = "conflict"
	KindInfrastructure = "infrastructure"
)
