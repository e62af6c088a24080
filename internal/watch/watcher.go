package watch

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/Sanesoluti-dev/Script-Planilhas/xlsxio"
)

// Watcher monitors the input directory for new calibration workbooks and
// hands them to the enqueue callback.
type Watcher struct {
	dir     string
	enqueue func(path string)
}

func New(dir string, enqueue func(path string)) *Watcher {
	return &Watcher{dir: dir, enqueue: enqueue}
}

func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-watcher.Events:
				if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
					if IsWorkbook(evt.Name) {
						w.enqueue(evt.Name)
					}
				}
			case err := <-watcher.Errors:
				log.Printf("watcher error: %v", err)
			}
		}
	}()
	return watcher.Add(w.dir)
}

// IsWorkbook reports whether path is an input workbook: an .xlsx that is
// neither an Office lock file nor one of our own corrected outputs.
func IsWorkbook(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		return false
	}
	if strings.ToLower(filepath.Ext(base)) != ".xlsx" {
		return false
	}
	return !xlsxio.IsCorrected(base)
}
