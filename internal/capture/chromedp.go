// Package capture renders candidate URLs to screenshots with a headless
// browser, matching the viewport of the original capture.
package capture

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"image/png"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Renderer drives headless Chrome through chromedp. Allocator contexts are
// pooled so repeated captures reuse browser processes.
type Renderer struct {
	timeout time.Duration
	logger  *zap.Logger
	ctxPool sync.Pool
}

func NewRenderer(timeout time.Duration, logger *zap.Logger) *Renderer {
	r := &Renderer{timeout: timeout, logger: logger}
	r.ctxPool.New = func() interface{} {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", ""),
			chromedp.Flag("disable-dev-shm-usage", ""),
		)
		allocCtx, _ := chromedp.NewExecAllocator(context.Background(), opts...)
		return allocCtx
	}
	return r
}

// Capture navigates to url with the given viewport and returns the rendered
// page as PNG bytes. Navigation failures are returned to the caller, who is
// expected to skip the candidate rather than abort.
func (r *Renderer) Capture(ctx context.Context, url string, width, height int) ([]byte, error) {
	allocCtx := r.ctxPool.Get().(context.Context)
	defer r.ctxPool.Put(allocCtx)

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()
	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, r.timeout)
	defer timeoutCancel()

	var buf []byte
	err := chromedp.Run(taskCtx,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(url),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		r.logger.Debug("capture failed", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	return buf, nil
}

// Decode turns captured PNG/JPEG bytes into an image for the metric layer.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// Encode serializes an image to PNG, the on-disk screenshot format.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
