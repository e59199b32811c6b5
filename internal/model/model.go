package model

import "time"

// Location is a physical place a display can be assigned to.
type Location struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Category tells whether a record is shown in the events sidebar or in the
// information rotation.
type Category string

const (
	CategoryEvent       Category = "event"
	CategoryInformation Category = "information"
)

// DisplayRecord is one event or information item targeted at one or more
// locations. The backend owns it; the controller only holds snapshots.
type DisplayRecord struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	MediaRef    string    `json:"media_ref"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Category    Category  `json:"category"`
	Locations   []int     `json:"locations"`
}

// TargetsLocation reports whether the record is scoped to the location id.
func (r DisplayRecord) TargetsLocation(id int) bool {
	for _, l := range r.Locations {
		if l == id {
			return true
		}
	}
	return false
}

// MediaKind is the resolved playback kind of a record's media.
type MediaKind string

const (
	MediaUnknown MediaKind = "unknown"
	MediaImage   MediaKind = "image"
	MediaVideo   MediaKind = "video"
	MediaEmbed   MediaKind = "embed"
)

// MediaResolution is the playable source for a record. URL is empty when
// the media could not be resolved.
type MediaResolution struct {
	URL  string    `json:"url,omitempty"`
	Kind MediaKind `json:"kind"`
}
