package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownState = errors.New("unknown conversation state")

// State is one conversation state. Every concrete state carries only the
// fields that state needs.
type State interface {
	Kind() StateKind
}

type Idle struct{}

type AwaitingURL struct {
	PromptMessageID int `json:"prompt_message_id,omitempty"`
}

type AwaitingConfirmation struct {
	URL             string  `json:"url"`
	EstimatedBytes  int64   `json:"estimated_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	StatusMessageID int     `json:"status_message_id,omitempty"`
}

type Downloading struct {
	SessionID       string `json:"session_id"`
	URL             string `json:"url"`
	WorkDir         string `json:"work_dir,omitempty"`
	StatusMessageID int    `json:"status_message_id,omitempty"`
}

type QualityOption struct {
	Height         int   `json:"height"`
	EstimatedBytes int64 `json:"estimated_bytes"`
}

type AwaitingQualityChoice struct {
	SessionID       string          `json:"session_id"`
	URL             string          `json:"url"`
	WorkDir         string          `json:"work_dir"`
	FilePath        string          `json:"file_path"`
	FileSize        int64           `json:"file_size"`
	DurationSeconds float64         `json:"duration_seconds"`
	Delivered       bool            `json:"delivered"`
	Options         []QualityOption `json:"options,omitempty"`
	StatusMessageID int             `json:"status_message_id,omitempty"`
}

// Option returns the offered option for height, if any.
func (s AwaitingQualityChoice) Option(height int) (QualityOption, bool) {
	for _, o := range s.Options {
		if o.Height == height {
			return o, true
		}
	}
	return QualityOption{}, false
}

type Encoding struct {
	SessionID       string `json:"session_id"`
	WorkDir         string `json:"work_dir"`
	FilePath        string `json:"file_path"`
	Height          int    `json:"height"`
	StatusMessageID int    `json:"status_message_id,omitempty"`
}

type Uploading struct {
	SessionID       string `json:"session_id"`
	WorkDir         string `json:"work_dir"`
	FilePath        string `json:"file_path"`
	StatusMessageID int    `json:"status_message_id,omitempty"`
}

func (Idle) Kind() StateKind                  { return StateIdle }
func (AwaitingURL) Kind() StateKind           { return StateAwaitingURL }
func (AwaitingConfirmation) Kind() StateKind  { return StateAwaitingConfirmation }
func (Downloading) Kind() StateKind           { return StateDownloading }
func (AwaitingQualityChoice) Kind() StateKind { return StateAwaitingQualityChoice }
func (Encoding) Kind() StateKind              { return StateEncoding }
func (Uploading) Kind() StateKind             { return StateUploading }

// WorkDirOf returns the session working directory owned by s, or "".
func WorkDirOf(s State) string {
	switch st := s.(type) {
	case Downloading:
		return st.WorkDir
	case AwaitingQualityChoice:
		return st.WorkDir
	case Encoding:
		return st.WorkDir
	case Uploading:
		return st.WorkDir
	default:
		return ""
	}
}

type stateEnvelope struct {
	Kind StateKind       `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

func MarshalState(s State) ([]byte, error) {
	if s == nil {
		s = Idle{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stateEnvelope{Kind: s.Kind(), Data: data})
}

func UnmarshalState(raw []byte) (State, error) {
	var env stateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	var (
		s   State
		err error
	)
	switch env.Kind {
	case StateIdle:
		return Idle{}, nil
	case StateAwaitingURL:
		s, err = decodeAs[AwaitingURL](env.Data)
	case StateAwaitingConfirmation:
		s, err = decodeAs[AwaitingConfirmation](env.Data)
	case StateDownloading:
		s, err = decodeAs[Downloading](env.Data)
	case StateAwaitingQualityChoice:
		s, err = decodeAs[AwaitingQualityChoice](env.Data)
	case StateEncoding:
		s, err = decodeAs[Encoding](env.Data)
	case StateUploading:
		s, err = decodeAs[Uploading](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, env.Kind)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func decodeAs[T State](data json.RawMessage) (State, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// StateStore keeps the per-user conversation state.
type StateStore interface {
	GetState(userID int64) (State, error)
	SetState(userID int64, state State) error
	ClearState(userID int64) error
	Ping() error
}
