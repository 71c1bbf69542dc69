package discover

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Resource identifies one source document within a unit.
type Resource struct {
	ID       string `yaml:"id"`
	URL      string `yaml:"url"`
	Filename string `yaml:"filename"`
}

// Unit is one independently trackable partition of work: a constituency
// identified by state plus assembly, carrying its discovered resources.
type Unit struct {
	State     string     `yaml:"state"`
	Assembly  string     `yaml:"assembly"`
	Resources []Resource `yaml:"resources"`
}

// Key returns the composite natural key of the unit.
func (u Unit) Key() string {
	return fmt.Sprintf("%s/%s", u.State, u.Assembly)
}

// Discovery produces a finite sequence of work units. It is restartable:
// a fresh process may re-invoke it and the pipeline resumes from the
// checkpoint, not from discovery state.
type Discovery interface {
	Units(ctx context.Context) (<-chan Unit, <-chan error)
}

// ManifestDiscovery reads units from a YAML manifest produced by the
// portal crawl.
type ManifestDiscovery struct {
	path   string
	logger *zap.Logger
}

// NewManifestDiscovery creates a discovery over the given manifest file.
func NewManifestDiscovery(path string, logger *zap.Logger) *ManifestDiscovery {
	return &ManifestDiscovery{path: path, logger: logger}
}

type manifest struct {
	Units []Unit `yaml:"units"`
}

// Units streams the manifest's units in file order.
func (d *ManifestDiscovery) Units(ctx context.Context) (<-chan Unit, <-chan error) {
	unitCh := make(chan Unit)
	errCh := make(chan error, 1)

	go func() {
		defer close(unitCh)
		defer close(errCh)

		data, err := os.ReadFile(d.path)
		if err != nil {
			errCh <- fmt.Errorf("failed to read manifest: %w", err)
			return
		}

		var m manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			errCh <- fmt.Errorf("failed to decode manifest: %w", err)
			return
		}

		d.logger.Info("Manifest loaded",
			zap.String("path", d.path),
			zap.Int("units", len(m.Units)),
		)

		for _, unit := range m.Units {
			if unit.State == "" || unit.Assembly == "" {
				errCh <- fmt.Errorf("manifest unit missing state or assembly")
				return
			}
			for i := range unit.Resources {
				if unit.Resources[i].ID == "" {
					unit.Resources[i].ID = unit.Resources[i].URL
				}
				if unit.Resources[i].Filename == "" {
					unit.Resources[i].Filename = filenameFromURL(unit.Resources[i].URL)
				}
			}
			select {
			case unitCh <- unit:
			case <-ctx.Done():
				return
			}
		}
	}()

	return unitCh, errCh
}

func filenameFromURL(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return "download.zip"
	}
	return trimmed
}
