// Patch bundle loading: the fixed boundary to the dataset collaborator. A
// bundle maps instance IDs to pixel arrays, channel labels, predicted class
// flags and split assignment; how patches were extracted from source images
// is out of scope for the engine.

package cf

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// PatchSpec is one patch entry in a bundle file.
type PatchSpec struct {
	ID            string    `yaml:"id"`
	SourceImageID string    `yaml:"source_image,omitempty"`
	PatientID     string    `yaml:"patient,omitempty"`
	Class         int       `yaml:"class"`
	Split         string    `yaml:"split,omitempty"` // train / validation / test
	Pixels        []float64 `yaml:"pixels"`          // channel-major, bundle layout
}

// PatchBundle is the top-level patch file. All patches in a bundle share one
// channel list and patch geometry.
type PatchBundle struct {
	Channels []string    `yaml:"channels"`
	Height   int         `yaml:"height"`
	Width    int         `yaml:"width"`
	Patches  []PatchSpec `yaml:"patches"`
}

// LoadPatchBundle reads and validates a YAML patch bundle.
func LoadPatchBundle(path string) (*PatchBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patch bundle %s: %w", path, err)
	}
	var b PatchBundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse patch bundle %s: %w", path, err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("patch bundle %s: %w", path, err)
	}
	return &b, nil
}

// Validate checks bundle-level layout and every patch against it.
func (b *PatchBundle) Validate() error {
	if len(b.Channels) == 0 {
		return fmt.Errorf("no channels declared")
	}
	if b.Height <= 0 || b.Width <= 0 {
		return fmt.Errorf("non-positive patch geometry %dx%d", b.Height, b.Width)
	}
	want := len(b.Channels) * b.Height * b.Width
	seen := make(map[string]bool, len(b.Patches))
	for i, p := range b.Patches {
		if p.ID == "" {
			return fmt.Errorf("patch %d has empty id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate patch id %q", p.ID)
		}
		seen[p.ID] = true
		if len(p.Pixels) != want {
			return fmt.Errorf("patch %s: %d pixels, want %d (%d channels x %dx%d)",
				p.ID, len(p.Pixels), want, len(b.Channels), b.Height, b.Width)
		}
	}
	return nil
}

// Instances converts the bundle's patches into engine Instances, filtered by
// split assignment. An empty split selects every patch.
func (b *PatchBundle) Instances(split string) []*Instance {
	out := make([]*Instance, 0, len(b.Patches))
	for _, p := range b.Patches {
		if split != "" && p.Split != split {
			continue
		}
		out = append(out, &Instance{
			ID:             p.ID,
			SourceImageID:  p.SourceImageID,
			PatientID:      p.PatientID,
			Channels:       b.Channels,
			Height:         b.Height,
			Width:          b.Width,
			Pixels:         p.Pixels,
			PredictedClass: p.Class,
		})
	}
	if len(out) == 0 {
		logrus.Warnf("patch bundle: no patches matched split %q", split)
	}
	return out
}
