package tinyml

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// LayerSpec is one layer of a sequential 1D network. Weights use the
// layout the training framework exports: conv1d kernels are
// [kernel, in, filters] and dense kernels [in, units].
type LayerSpec struct {
	Type       string    `json:"type" yaml:"type"` // conv1d, maxpool1d, flatten, dense
	Filters    int       `json:"filters,omitempty" yaml:"filters,omitempty"`
	Kernel     int       `json:"kernel,omitempty" yaml:"kernel,omitempty"`
	Pool       int       `json:"pool,omitempty" yaml:"pool,omitempty"`
	Units      int       `json:"units,omitempty" yaml:"units,omitempty"`
	Padding    string    `json:"padding,omitempty" yaml:"padding,omitempty"`       // same, valid
	Activation string    `json:"activation,omitempty" yaml:"activation,omitempty"` // relu, relu6, softmax
	Weights    []float32 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Bias       []float32 `json:"bias,omitempty" yaml:"bias,omitempty"`
}

// SequentialSpec describes a network over a [1, Steps, Channels] input.
type SequentialSpec struct {
	Name     string      `json:"name" yaml:"name"`
	Steps    int         `json:"steps" yaml:"steps"`
	Channels int         `json:"channels" yaml:"channels"`
	Layers   []LayerSpec `json:"layers" yaml:"layers"`
}

// DirectionCNN returns the production architecture without weights:
// two conv/pool stages, a hidden dense layer and a 3-way softmax.
func DirectionCNN(steps, channels int) SequentialSpec {
	return SequentialSpec{
		Name:     "direction_cnn",
		Steps:    steps,
		Channels: channels,
		Layers: []LayerSpec{
			{Type: "conv1d", Filters: 16, Kernel: 5, Padding: "same", Activation: "relu"},
			{Type: "maxpool1d", Pool: 2},
			{Type: "conv1d", Filters: 32, Kernel: 3, Padding: "same", Activation: "relu"},
			{Type: "maxpool1d", Pool: 2},
			{Type: "flatten"},
			{Type: "dense", Units: 32, Activation: "relu"},
			{Type: "dense", Units: 3, Activation: "softmax"},
		},
	}
}

// FillRandom gives every layer missing weights small deterministic random
// values, for sizing arenas before a trained model exists.
func (s *SequentialSpec) FillRandom(seed uint64) error {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	steps, ch := s.Steps, s.Channels
	flat := 0
	for i := range s.Layers {
		l := &s.Layers[i]
		var nw, nb int
		switch strings.ToLower(l.Type) {
		case "conv1d":
			nw, nb = l.Kernel*ch*l.Filters, l.Filters
			if strings.ToLower(l.Padding) != "same" {
				steps = steps - l.Kernel + 1
			}
			ch = l.Filters
		case "maxpool1d":
			steps /= max(1, l.Pool)
		case "flatten":
			flat = steps * ch
		case "dense":
			in := flat
			if in == 0 {
				in = ch
			}
			nw, nb = in*l.Units, l.Units
			flat = l.Units
		default:
			return fmt.Errorf("tinyml: layer %d: unknown type %q", i, l.Type)
		}
		if len(l.Weights) == 0 && nw > 0 {
			l.Weights = make([]float32, nw)
			for j := range l.Weights {
				l.Weights[j] = float32(r.NormFloat64() * 0.1)
			}
		}
		if len(l.Bias) == 0 && nb > 0 {
			l.Bias = make([]float32, nb)
		}
	}
	return nil
}

func parseActivation(s string) (Activation, bool, error) {
	switch strings.ToLower(s) {
	case "", "linear", "none":
		return ActNone, false, nil
	case "relu":
		return ActReLU, false, nil
	case "relu6":
		return ActReLU6, false, nil
	case "softmax":
		return ActNone, true, nil
	}
	return ActNone, false, fmt.Errorf("unknown activation %q", s)
}

func parsePadding(s string) (Padding, error) {
	switch strings.ToLower(s) {
	case "", "valid":
		return PaddingValid, nil
	case "same":
		return PaddingSame, nil
	}
	return PaddingValid, fmt.Errorf("unknown padding %q", s)
}

// BuildSequential lowers a sequential spec into a graph: the 1D input is
// viewed as NHWC with width 1, conv1d becomes Conv2D with a kx1 kernel and
// flatten becomes Reshape.
func BuildSequential(spec SequentialSpec, quantizeWeights bool) (*Builder, error) {
	if spec.Steps <= 0 || spec.Channels <= 0 {
		return nil, fmt.Errorf("tinyml: input must have positive steps and channels, got %dx%d", spec.Steps, spec.Channels)
	}
	b := NewBuilder(spec.Name, quantizeWeights)
	in := b.Input("input", 1, spec.Steps, spec.Channels)
	cur := b.Reshape("input/nhwc", in, 1, spec.Steps, 1, spec.Channels)
	flat := false

	for i, l := range spec.Layers {
		name := fmt.Sprintf("%s_%d", strings.ToLower(l.Type), i)
		act, softmax, err := parseActivation(l.Activation)
		if err != nil {
			return nil, fmt.Errorf("tinyml: layer %d: %w", i, err)
		}
		switch strings.ToLower(l.Type) {
		case "conv1d":
			if flat {
				return nil, fmt.Errorf("tinyml: layer %d: conv1d after flatten", i)
			}
			pad, err := parsePadding(l.Padding)
			if err != nil {
				return nil, fmt.Errorf("tinyml: layer %d: %w", i, err)
			}
			inC := b.m.Tensors[cur].Shape[3]
			w, err := transposeConv1D(l.Weights, l.Kernel, inC, l.Filters)
			if err != nil {
				return nil, fmt.Errorf("tinyml: layer %d: %w", i, err)
			}
			cur = b.Conv2D(name, cur, w, l.Bias, l.Filters, l.Kernel, 1, 1, pad, act)
		case "maxpool1d":
			cur = b.MaxPool2D(name, cur, max(1, l.Pool), 1)
		case "flatten":
			s := b.m.Tensors[cur].Shape
			n := 1
			for _, d := range s[1:] {
				n *= d
			}
			cur = b.Reshape(name, cur, s[0], n)
			flat = true
		case "dense":
			s := b.m.Tensors[cur].Shape
			k := s[len(s)-1]
			w, err := transposeDense(l.Weights, k, l.Units)
			if err != nil {
				return nil, fmt.Errorf("tinyml: layer %d: %w", i, err)
			}
			cur = b.FullyConnected(name, cur, w, l.Bias, l.Units, act)
		default:
			return nil, fmt.Errorf("tinyml: layer %d: unknown type %q", i, l.Type)
		}
		if softmax {
			cur = b.Softmax(name+"/softmax", cur)
		}
		if b.err != nil {
			return nil, b.err
		}
	}
	b.Output(cur)
	return b, b.err
}

// transposeConv1D converts [kernel, in, out] to [out, kernel, 1, in].
func transposeConv1D(w []float32, k, in, out int) ([]float32, error) {
	if len(w) != k*in*out {
		return nil, fmt.Errorf("conv1d has %d weights, want %d", len(w), k*in*out)
	}
	t := make([]float32, len(w))
	for ki := 0; ki < k; ki++ {
		for ci := 0; ci < in; ci++ {
			for co := 0; co < out; co++ {
				t[(co*k+ki)*in+ci] = w[(ki*in+ci)*out+co]
			}
		}
	}
	return t, nil
}

// transposeDense converts [in, units] to [units, in].
func transposeDense(w []float32, in, units int) ([]float32, error) {
	if len(w) != in*units {
		return nil, fmt.Errorf("dense has %d weights, want %d", len(w), in*units)
	}
	t := make([]float32, len(w))
	for i := 0; i < in; i++ {
		for u := 0; u < units; u++ {
			t[u*in+i] = w[i*units+u]
		}
	}
	return t, nil
}
