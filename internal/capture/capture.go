// Package capture renders the signage page in headless Chromium and saves
// a PNG preview for remote monitoring.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "signage/internal/log"
)

const defaultTimeout = 30 * time.Second

// Options for one capture.
type Options struct {
	// URL of the page, e.g. "http://127.0.0.1:8080/".
	URL string
	// Output is the PNG path.
	Output string
	Width  int
	Height int
	// Timeout bounds the whole capture.
	Timeout time.Duration
}

func (o *Options) validate() error {
	if o.URL == "" {
		return errors.New("capture: url is required")
	}
	if o.Output == "" {
		return errors.New("capture: output path is required")
	}
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("capture: invalid viewport %dx%d", o.Width, o.Height)
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return nil
}

// PNG loads the page, waits until it marks itself ready and writes a
// screenshot to opts.Output. The file is replaced atomically.
func PNG(parent context.Context, opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, opts.Timeout)
	defer cancelTimeout()

	var buf []byte
	err := chromedp.Run(ctx,
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		// Let media elements paint their first frame.
		chromedp.Sleep(500*time.Millisecond),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		return fmt.Errorf("capture: chromedp: %w", err)
	}

	if err := writeAtomic(opts.Output, buf); err != nil {
		return fmt.Errorf("capture: write: %w", err)
	}
	appLog.Info("capture: preview written", "path", opts.Output, "bytes", len(buf))
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".preview-*.png")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
