package types

type StateKind string

const (
	StateIdle                  StateKind = "idle"
	StateAwaitingURL           StateKind = "awaiting_url"
	StateAwaitingConfirmation  StateKind = "awaiting_confirmation"
	StateDownloading           StateKind = "downloading"
	StateAwaitingQualityChoice StateKind = "awaiting_quality_choice"
	StateEncoding              StateKind = "encoding"
	StateUploading             StateKind = "uploading"
)

// Busy states hold the user's session lock while work is in flight.
func (k StateKind) Busy() bool {
	switch k {
	case StateDownloading, StateEncoding, StateUploading:
		return true
	default:
		return false
	}
}

const (
	SettingEncodingPreset = "encoding_preset"
	SettingPendingURL     = "pending_url"
)

const (
	LogLevelInfo    = "INFO"
	LogLevelWarning = "WARNING"
	LogLevelError   = "ERROR"
)
