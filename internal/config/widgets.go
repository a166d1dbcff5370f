package config

import (
	"fmt"
	"os"

	"github.com/ondrasimku/filepicker-go/internal/filepicker"
	"gopkg.in/yaml.v3"
)

type widgetsFile struct {
	Widgets []filepicker.Config `yaml:"widgets"`
}

// LoadWidgets reads widget declarations from a YAML file of the form
//
//	widgets:
//	  - widgetId: avatar
//	    maxNumFiles: 1
//	    allowedFileTypes: ["image/*"]
func LoadWidgets(path string) ([]filepicker.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read widgets file: %w", err)
	}

	var file widgetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse widgets file: %w", err)
	}

	seen := make(map[string]bool, len(file.Widgets))
	widgets := make([]filepicker.Config, 0, len(file.Widgets))
	for i, w := range file.Widgets {
		base := filepicker.DefaultConfig(w.WidgetID)
		w = mergeDefaults(base, w)
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("widget %d: %w", i, err)
		}
		if seen[w.WidgetID] {
			return nil, fmt.Errorf("widget %d: duplicate widgetId %q", i, w.WidgetID)
		}
		seen[w.WidgetID] = true
		widgets = append(widgets, w)
	}
	return widgets, nil
}

// mergeDefaults keeps the declared values and falls back to the defaults a
// new widget starts with for restriction fields left out of the file.
func mergeDefaults(base, w filepicker.Config) filepicker.Config {
	if w.MaxNumFiles == nil {
		w.MaxNumFiles = base.MaxNumFiles
	}
	if w.MaxFileSize == nil {
		w.MaxFileSize = base.MaxFileSize
	}
	return w.WithDefaults()
}
