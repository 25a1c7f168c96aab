package cache

import (
	"os"
	"path/filepath"
	"strings"
)

// Usage summarizes one cache tree for the maintenance CLI.
type Usage struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

func treeUsage(dir string) Usage {
	var u Usage
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".json") {
			return nil
		}
		u.Files++
		u.Bytes += info.Size()
		return nil
	})
	return u
}

// OCRUsage reports size and entry count of the per-binder OCR tier.
func OCRUsage(root string) Usage {
	return treeUsage(filepath.Join(root, "ocr"))
}

// TemplateUsage reports size and entry count of the template tier.
func TemplateUsage(root string) Usage {
	return treeUsage(filepath.Join(root, "templates"))
}

// Clear removes both cache tiers. Only ever a performance event.
func Clear(root string) error {
	if err := os.RemoveAll(filepath.Join(root, "ocr")); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(root, "templates"))
}
