package review

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/joss/awf/internal/config"
)

// captureTimeout bounds one browser session; a wedged page must not
// stall the pipeline.
const captureTimeout = 3 * time.Minute

// CaptureScreenshot loads url in a headless browser and writes a full
// page screenshot to path. Callers treat failure as soft: the review
// proceeds without the capture.
func CaptureScreenshot(url, path string) error {
	if err := config.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}

	browser := rod.New().Timeout(captureTimeout)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return fmt.Errorf("open page %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("load page %s: %w", url, err)
	}

	data, err := page.Screenshot(true, nil)
	if err != nil {
		return fmt.Errorf("capture %s: %w", url, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}
