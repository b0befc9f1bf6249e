package task

import (
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Type string

const (
	TypeYouTube        Type = "youtube"
	TypeUploadMedia    Type = "upload-media"
	TypeUploadSubtitle Type = "upload-subtitle"
)

// YouTubePayload describes a remote-media task. Title, Uploader and Duration
// are filled in by the pipeline once metadata is resolved.
type YouTubePayload struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Uploader   string `json:"uploader,omitempty"`
	DurationS  int    `json:"duration_seconds,omitempty"`
	Auto       bool   `json:"auto,omitempty"`
	AIProvider string `json:"ai_provider,omitempty"`
}

// UploadMediaPayload describes an uploaded audio/video file already on disk.
type UploadMediaPayload struct {
	AudioFile    string `json:"audio_file"`
	SubtitlePath string `json:"subtitle_path"`
	SummaryPath  string `json:"summary_path"`
	Title        string `json:"title,omitempty"`
	AIProvider   string `json:"ai_provider,omitempty"`
}

// UploadSubtitlePayload describes a raw subtitle upload. The artifact already
// exists, so the pipeline completes it immediately.
type UploadSubtitlePayload struct {
	SubtitleFile string `json:"subtitle_file"`
	Title        string `json:"title,omitempty"`
}

// Payload is a tagged union: exactly the variant matching the task's Type is
// non-nil. Validated at enqueue time.
type Payload struct {
	YouTube        *YouTubePayload        `json:"youtube,omitempty"`
	UploadMedia    *UploadMediaPayload    `json:"upload_media,omitempty"`
	UploadSubtitle *UploadSubtitlePayload `json:"upload_subtitle,omitempty"`
}

func (p Payload) validate(typ Type) error {
	switch typ {
	case TypeYouTube:
		if p.YouTube == nil || p.UploadMedia != nil || p.UploadSubtitle != nil {
			return fmt.Errorf("%s task requires exactly a youtube payload", typ)
		}
		if p.YouTube.URL == "" {
			return fmt.Errorf("youtube payload is missing a URL")
		}
	case TypeUploadMedia:
		if p.UploadMedia == nil || p.YouTube != nil || p.UploadSubtitle != nil {
			return fmt.Errorf("%s task requires exactly an upload_media payload", typ)
		}
		if p.UploadMedia.AudioFile == "" {
			return fmt.Errorf("upload_media payload is missing the audio file path")
		}
	case TypeUploadSubtitle:
		if p.UploadSubtitle == nil || p.YouTube != nil || p.UploadMedia != nil {
			return fmt.Errorf("%s task requires exactly an upload_subtitle payload", typ)
		}
	default:
		return fmt.Errorf("unknown task type: %s", typ)
	}
	return nil
}

const (
	MinPriority = 1
	MaxPriority = 10
)

type Task struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	Status       Status            `json:"status"`
	Priority     int               `json:"priority"`
	RequesterKey string            `json:"requester_key"`
	Payload      Payload           `json:"payload"`
	Progress     int               `json:"progress"`
	Result       map[string]string `json:"result"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

func newTask(typ Type, payload Payload, priority int, requesterKey string) (*Task, error) {
	if err := payload.validate(typ); err != nil {
		return nil, err
	}
	if priority < MinPriority {
		priority = MinPriority
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	if requesterKey == "" {
		requesterKey = "unknown"
	}
	return &Task{
		ID:           shortuuid.New(),
		Type:         typ,
		Status:       StatusQueued,
		Priority:     priority,
		RequesterKey: requesterKey,
		Payload:      payload,
		Result:       map[string]string{},
		CreatedAt:    time.Now(),
	}, nil
}

// Title returns the logical title of the task's content, used to derive its
// content-equivalence key.
func (t *Task) Title() string {
	switch {
	case t.Payload.YouTube != nil:
		return t.Payload.YouTube.Title
	case t.Payload.UploadMedia != nil:
		return t.Payload.UploadMedia.Title
	case t.Payload.UploadSubtitle != nil:
		return t.Payload.UploadSubtitle.Title
	}
	return ""
}

func (t *Task) clone() *Task {
	cp := *t
	cp.Result = make(map[string]string, len(t.Result))
	for k, v := range t.Result {
		cp.Result[k] = v
	}
	if t.Payload.YouTube != nil {
		yt := *t.Payload.YouTube
		cp.Payload.YouTube = &yt
	}
	if t.Payload.UploadMedia != nil {
		um := *t.Payload.UploadMedia
		cp.Payload.UploadMedia = &um
	}
	if t.Payload.UploadSubtitle != nil {
		us := *t.Payload.UploadSubtitle
		cp.Payload.UploadSubtitle = &us
	}
	if t.StartedAt != nil {
		st := *t.StartedAt
		cp.StartedAt = &st
	}
	if t.CompletedAt != nil {
		ct := *t.CompletedAt
		cp.CompletedAt = &ct
	}
	return &cp
}
