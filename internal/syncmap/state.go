package syncmap

// State is the lifecycle stage of a live session.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateRemoteAuthoritative
	StateBackupAuthoritative
	StateLive
	StateCleanShutdown
	StateCrashedShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateRemoteAuthoritative:
		return "remote_authoritative"
	case StateBackupAuthoritative:
		return "backup_authoritative"
	case StateLive:
		return "live"
	case StateCleanShutdown:
		return "clean_shutdown"
	case StateCrashedShutdown:
		return "crashed_shutdown"
	default:
		return "unknown"
	}
}

// Status summarizes a mapping for the admin surface.
type Status struct {
	Namespace  string `json:"namespace"`
	Key        string `json:"key"`
	Mode       string `json:"mode"`
	State      string `json:"state"`
	Source     string `json:"source,omitempty"`
	Degraded   bool   `json:"degraded"`
	DontSave   bool   `json:"dontSave"`
	BackupPath string `json:"backupPath"`
	Entries    int    `json:"entries"`
}
