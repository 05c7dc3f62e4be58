package domain

import "github.com/google/uuid"

// MediaKind classifies the artifact a Handle points at.
type MediaKind string

const (
	MediaImage  MediaKind = "image"
	MediaVideo  MediaKind = "video"
	MediaModel  MediaKind = "model"
	MediaBundle MediaKind = "bundle"
	MediaScene  MediaKind = "scene"
)

// Handle is an opaque reference to a media artifact. Location is only
// meaningful to the collaborator that produced it (a storage key or a URL).
type Handle struct {
	ID       string    `json:"id"`
	Kind     MediaKind `json:"kind"`
	Location string    `json:"location"`
	MIME     string    `json:"mime,omitempty"`
}

// NewHandle allocates a handle with a fresh identifier.
func NewHandle(kind MediaKind, location, mime string) Handle {
	return Handle{ID: uuid.NewString(), Kind: kind, Location: location, MIME: mime}
}

// IsZero reports whether h references nothing.
func (h Handle) IsZero() bool {
	return h.ID == "" && h.Location == ""
}
