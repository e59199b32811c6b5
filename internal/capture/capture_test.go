package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNG_ValidatesOptions(t *testing.T) {
	cases := map[string]Options{
		"no url":    {Output: "/tmp/x.png", Width: 10, Height: 10},
		"no output": {URL: "http://127.0.0.1/", Width: 10, Height: 10},
		"viewport":  {URL: "http://127.0.0.1/", Output: "/tmp/x.png"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, PNG(context.Background(), opts))
		})
	}
}

func TestValidate_DefaultTimeout(t *testing.T) {
	opts := Options{URL: "http://127.0.0.1/", Output: "out.png", Width: 1920, Height: 1080}
	require.NoError(t, opts.validate())
	assert.Equal(t, 30*time.Second, opts.Timeout)
}

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preview.png")

	require.NoError(t, writeAtomic(path, []byte("first")))
	require.NoError(t, writeAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
