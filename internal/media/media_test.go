package media

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signage/internal/model"
)

type fakeURLs struct{}

func (fakeURLs) MediaURL(id int, mediaType string) string {
	return fmt.Sprintf("http://api/media/%d/%s", id, mediaType)
}

func TestKindOf(t *testing.T) {
	cases := map[string]model.MediaKind{
		"poster.png":                        model.MediaImage,
		"poster.PNG":                        model.MediaImage,
		"photo.jpg":                         model.MediaImage,
		"photo.jpeg":                        model.MediaImage,
		"uploads/2026/clip.mp4":             model.MediaVideo,
		"clip.MP4?token=abc":                model.MediaVideo,
		"https://youtu.be/dQw4w9WgXcQ":      model.MediaEmbed,
		"https://www.youtube.com/embed/xyz": model.MediaEmbed,
		"slides.pdf":                        model.MediaEmbed,
		"noextension":                       model.MediaEmbed,
		"animation.gif":                     model.MediaEmbed,
	}
	for ref, want := range cases {
		got, err := KindOf(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, want, got, ref)
	}
}

func TestKindOf_Empty(t *testing.T) {
	kind, err := KindOf("  ")
	assert.ErrorIs(t, err, ErrUnresolvable)
	assert.Equal(t, model.MediaUnknown, kind)
}

func TestClassify(t *testing.T) {
	c := NewClassifier(fakeURLs{})

	res, err := c.Classify(model.DisplayRecord{ID: 4, MediaRef: "a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, model.MediaResolution{URL: "http://api/media/4/file", Kind: model.MediaVideo}, res)

	res, err = c.Classify(model.DisplayRecord{ID: 5, MediaRef: "https://youtu.be/x"})
	require.NoError(t, err)
	assert.Equal(t, model.MediaResolution{URL: "http://api/media/5/embed", Kind: model.MediaEmbed}, res)

	res, err = c.Classify(model.DisplayRecord{ID: 6})
	assert.ErrorIs(t, err, ErrUnresolvable)
	assert.Equal(t, model.MediaResolution{Kind: model.MediaUnknown}, res)
}

func TestCache_SyncMemoizesAndEvicts(t *testing.T) {
	cache := NewCache(NewClassifier(fakeURLs{}))

	first := []model.DisplayRecord{
		{ID: 1, MediaRef: "a.png"},
		{ID: 2, MediaRef: "b.mp4"},
	}
	assert.Equal(t, 2, cache.Sync(first))
	assert.Equal(t, model.MediaImage, cache.Kind(1))
	assert.Equal(t, model.MediaVideo, cache.Kind(2))

	// Same refs: nothing is re-resolved.
	assert.Equal(t, 0, cache.Sync(first))

	second := []model.DisplayRecord{
		{ID: 2, MediaRef: "https://youtu.be/b"},
		{ID: 3, MediaRef: "c.jpg"},
	}
	assert.Equal(t, 2, cache.Sync(second))
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, model.MediaEmbed, cache.Kind(2))
	assert.Equal(t, model.MediaImage, cache.Kind(3))
	assert.Equal(t, model.MediaUnknown, cache.Kind(1))
}
