// Package media resolves a record's media reference to a playable URL and
// a kind, and memoizes the result per record for the current snapshot.
package media

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"signage/internal/backend"
	"signage/internal/model"
)

// ErrUnresolvable is returned when a record carries no usable media ref.
var ErrUnresolvable = errors.New("media: unresolvable")

// URLBuilder builds media endpoint URLs. *backend.Client implements it.
type URLBuilder interface {
	MediaURL(id int, mediaType string) string
}

var kindByExt = map[string]model.MediaKind{
	"jpg":  model.MediaImage,
	"jpeg": model.MediaImage,
	"png":  model.MediaImage,
	"mp4":  model.MediaVideo,
}

// Classifier sniffs the file extension of a media ref. It never performs
// network I/O.
type Classifier struct {
	urls URLBuilder
}

func NewClassifier(urls URLBuilder) *Classifier {
	return &Classifier{urls: urls}
}

// Classify resolves rec. On ErrUnresolvable the returned resolution has
// kind UNKNOWN and no URL.
func (c *Classifier) Classify(rec model.DisplayRecord) (model.MediaResolution, error) {
	kind, err := KindOf(rec.MediaRef)
	if err != nil {
		return model.MediaResolution{Kind: model.MediaUnknown}, fmt.Errorf("record %d: %w", rec.ID, err)
	}

	mediaType := backend.MediaTypeFile
	if kind == model.MediaEmbed {
		mediaType = backend.MediaTypeEmbed
	}
	return model.MediaResolution{
		URL:  c.urls.MediaURL(rec.ID, mediaType),
		Kind: kind,
	}, nil
}

// KindOf maps a media ref to a kind by its extension: jpg/jpeg/png are
// images, mp4 is video, everything else is an embed.
func KindOf(ref string) (model.MediaKind, error) {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if ref == "" {
		return model.MediaUnknown, ErrUnresolvable
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(ref), "."))
	if kind, ok := kindByExt[ext]; ok {
		return kind, nil
	}
	return model.MediaEmbed, nil
}
