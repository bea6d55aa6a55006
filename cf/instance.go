// Defines the Instance struct that models a single multi-channel image patch,
// the ReferencePool of labeled patches used for nearest-neighbor seeding, and
// the CounterfactualCandidate working copy evolved by the optimizer.

package cf

import (
	"fmt"
	"sort"
)

// Instance is one image patch plus metadata. Pixels are stored channel-major:
// Pixels[c*H*W + y*W + x]. Instances are immutable inputs to the search; the
// optimizer only ever mutates CounterfactualCandidate copies.
type Instance struct {
	ID            string    // Unique identifier for the patch
	SourceImageID string    // Whole-slide / acquisition image this patch was cut from
	PatientID     string    // Donor the source image belongs to
	Channels      []string  // Channel names, order matches the pixel layout
	Height        int       // Patch height in pixels
	Width         int       // Patch width in pixels
	Pixels        []float64 // Channel-major intensities, length = len(Channels)*Height*Width

	PredictedClass int // Class the classifier currently assigns to this patch
}

// PlaneSize returns the number of pixels in one channel plane.
func (in *Instance) PlaneSize() int {
	return in.Height * in.Width
}

// ChannelIndex returns the position of the named channel, or -1 if absent.
func (in *Instance) ChannelIndex(name string) int {
	for i, c := range in.Channels {
		if c == name {
			return i
		}
	}
	return -1
}

// ChannelPlane returns the pixel slice for channel c. The slice aliases
// Pixels; callers must not mutate it.
func (in *Instance) ChannelPlane(c int) []float64 {
	n := in.PlaneSize()
	return in.Pixels[c*n : (c+1)*n]
}

// Validate checks structural consistency of the patch.
func (in *Instance) Validate() error {
	if in.ID == "" {
		return fmt.Errorf("instance has empty ID")
	}
	if in.Height <= 0 || in.Width <= 0 {
		return fmt.Errorf("instance %s: non-positive dimensions %dx%d", in.ID, in.Height, in.Width)
	}
	if want := len(in.Channels) * in.Height * in.Width; len(in.Pixels) != want {
		return fmt.Errorf("instance %s: pixel length %d, want %d (%d channels x %dx%d)",
			in.ID, len(in.Pixels), want, len(in.Channels), in.Height, in.Width)
	}
	return nil
}

// ReferencePool holds the labeled reference patches, partitioned by class.
// Read-only after construction; safe for concurrent access.
type ReferencePool struct {
	byClass map[int][]*Instance
	size    int
}

// NewReferencePool partitions instances by predicted class. Within a class,
// instances are kept sorted by ID so downstream consumers see a stable order.
func NewReferencePool(instances []*Instance) *ReferencePool {
	p := &ReferencePool{byClass: make(map[int][]*Instance)}
	for _, in := range instances {
		p.byClass[in.PredictedClass] = append(p.byClass[in.PredictedClass], in)
		p.size++
	}
	for _, members := range p.byClass {
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	}
	return p
}

// Class returns the references labeled with the given class, sorted by ID.
// The returned slice is shared; callers must not mutate it.
func (p *ReferencePool) Class(label int) []*Instance {
	return p.byClass[label]
}

// Classes returns the distinct class labels present, ascending.
func (p *ReferencePool) Classes() []int {
	labels := make([]int, 0, len(p.byClass))
	for label := range p.byClass {
		labels = append(labels, label)
	}
	sort.Ints(labels)
	return labels
}

// Size returns the total number of reference instances.
func (p *ReferencePool) Size() int {
	return p.size
}

// CounterfactualCandidate is a mutable working copy of an instance's pixels.
// Perturbation is expressed as one scalar intensity shift per perturbable
// channel; all other channels stay bit-identical to the original.
type CounterfactualCandidate struct {
	Original *Instance

	// PerturbChannels are the channel indices (into Original.Channels) that
	// the optimizer may shift.
	PerturbChannels []int

	// Delta holds the current shift for each entry of PerturbChannels.
	Delta []float64
}

// NewCandidate builds a zero-perturbation candidate restricted to the named
// channels. Returns an error if a requested channel is absent from the patch.
func NewCandidate(in *Instance, channelToPerturb []string) (*CounterfactualCandidate, error) {
	idx := make([]int, 0, len(channelToPerturb))
	for _, name := range channelToPerturb {
		c := in.ChannelIndex(name)
		if c < 0 {
			return nil, fmt.Errorf("instance %s: perturbable channel %q not present (have %v)",
				in.ID, name, in.Channels)
		}
		idx = append(idx, c)
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("instance %s: no perturbable channels configured", in.ID)
	}
	return &CounterfactualCandidate{
		Original:        in,
		PerturbChannels: idx,
		Delta:           make([]float64, len(idx)),
	}, nil
}

// Materialize returns the full pixel array with the current shifts applied.
// Channels outside PerturbChannels are copied from the original unchanged.
func (c *CounterfactualCandidate) Materialize() []float64 {
	out := make([]float64, len(c.Original.Pixels))
	copy(out, c.Original.Pixels)
	n := c.Original.PlaneSize()
	for k, ch := range c.PerturbChannels {
		d := c.Delta[k]
		if d == 0 {
			continue
		}
		plane := out[ch*n : (ch+1)*n]
		for i := range plane {
			plane[i] += d
		}
	}
	return out
}

// ChannelShift maps perturbable channel names to their current shift.
func (c *CounterfactualCandidate) ChannelShift() map[string]float64 {
	shift := make(map[string]float64, len(c.PerturbChannels))
	for k, ch := range c.PerturbChannels {
		shift[c.Original.Channels[ch]] = c.Delta[k]
	}
	return shift
}
