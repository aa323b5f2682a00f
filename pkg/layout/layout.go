// Package layout maps checkpoint tensor names onto the canonical layer-major
// order the inference runtime reads weights in.
//
// Every name resolves to a Role: the embedding table, one of eleven per-layer
// components of a decoder layer, or the final normalization. Roles sort by
// OrderKey, so the embedding comes first, then layer 0 component by component,
// then layer 1 and so on, and the final norm comes last.
package layout

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Component identifies what a tensor is within the model.
type Component int

const (
	Unknown Component = iota
	Embedding
	InputLayerNorm
	QProj
	KProj
	VProj
	OProj
	PostAttentionLayerNorm
	PreFeedForwardLayerNorm
	DownProj
	GateProj
	UpProj
	PostFeedForwardLayerNorm
	FinalNorm
)

var componentNames = map[Component]string{
	Unknown:                  "unknown",
	Embedding:                "embedding",
	InputLayerNorm:           "input_layernorm",
	QProj:                    "q_proj",
	KProj:                    "k_proj",
	VProj:                    "v_proj",
	OProj:                    "o_proj",
	PostAttentionLayerNorm:   "post_attention_layernorm",
	PreFeedForwardLayerNorm:  "pre_feedforward_layernorm",
	DownProj:                 "down_proj",
	GateProj:                 "gate_proj",
	UpProj:                   "up_proj",
	PostFeedForwardLayerNorm: "post_feedforward_layernorm",
	FinalNorm:                "final_norm",
}

func (c Component) String() string {
	if name, ok := componentNames[c]; ok {
		return name
	}
	return "Component(" + strconv.Itoa(int(c)) + ")"
}

// PerLayer reports whether c belongs to a decoder layer.
func (c Component) PerLayer() bool {
	_, ok := subOffsets[c]
	return ok
}

// layerComponents is matched against layer tensor names in order; the first
// substring found wins.
var layerComponents = []struct {
	substr    string
	component Component
}{
	{"input_layernorm", InputLayerNorm},
	{"self_attn.q_proj", QProj},
	{"self_attn.k_proj", KProj},
	{"self_attn.v_proj", VProj},
	{"self_attn.o_proj", OProj},
	{"post_attention_layernorm", PostAttentionLayerNorm},
	{"pre_feedforward_layernorm", PreFeedForwardLayerNorm},
	{"mlp.down_proj", DownProj},
	{"mlp.gate_proj", GateProj},
	{"mlp.up_proj", UpProj},
	{"post_feedforward_layernorm", PostFeedForwardLayerNorm},
}

// subOffsets is the position of each per-layer component inside its layer.
var subOffsets = map[Component]int{
	InputLayerNorm:           0,
	QProj:                    1,
	KProj:                    2,
	VProj:                    3,
	OProj:                    4,
	PostAttentionLayerNorm:   5,
	PreFeedForwardLayerNorm:  6,
	DownProj:                 7,
	GateProj:                 8,
	UpProj:                   9,
	PostFeedForwardLayerNorm: 10,
}

// ErrUnrecognizedName is matched by every *UnrecognizedNameError.
var ErrUnrecognizedName = errors.New("unrecognized tensor name")

// UnrecognizedNameError reports a tensor name that has no place in the
// canonical layout.
type UnrecognizedNameError struct {
	Name   string
	Reason string
}

func (e *UnrecognizedNameError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrUnrecognizedName, e.Name, e.Reason)
}

func (e *UnrecognizedNameError) Is(target error) bool {
	return target == ErrUnrecognizedName
}

// Role is the parsed position of a tensor in the model. Layer is only
// meaningful for per-layer components.
type Role struct {
	Component Component
	Layer     int
}

func (r Role) String() string {
	if r.Component.PerLayer() {
		return fmt.Sprintf("layers.%d.%s", r.Layer, r.Component)
	}
	return r.Component.String()
}

// Key returns the order key of the role.
func (r Role) Key() OrderKey {
	switch r.Component {
	case Embedding:
		return OrderKey{Layer: -1}
	case FinalNorm:
		return OrderKey{Layer: math.MaxInt}
	default:
		return OrderKey{Layer: r.Layer, Sub: subOffsets[r.Component]}
	}
}

// Parse resolves a tensor name to its role.
//
// Names shaped <prefix>.layers.<N>.<rest> belong to layer N and must contain
// one of the per-layer component markers. Other names must contain
// "embed_tokens" or "norm".
func Parse(name string) (Role, error) {
	if layer, ok, err := layerIndex(name); err != nil {
		return Role{}, err
	} else if ok {
		for _, lc := range layerComponents {
			if strings.Contains(name, lc.substr) {
				return Role{Component: lc.component, Layer: layer}, nil
			}
		}
		return Role{}, &UnrecognizedNameError{Name: name, Reason: "no known component in layer " + strconv.Itoa(layer)}
	}

	switch {
	case strings.Contains(name, "embed_tokens"):
		return Role{Component: Embedding}, nil
	case strings.Contains(name, "norm"):
		return Role{Component: FinalNorm}, nil
	default:
		return Role{}, &UnrecognizedNameError{Name: name, Reason: "neither a layer, embedding nor norm tensor"}
	}
}

// layerIndex extracts N from <prefix>.layers.<N>.<rest>. ok is false when the
// name does not have that shape.
func layerIndex(name string) (int, bool, error) {
	parts := strings.SplitN(name, ".", 4)
	if len(parts) < 4 || parts[1] != "layers" {
		return 0, false, nil
	}
	layer, err := strconv.Atoi(parts[2])
	if err != nil || layer < 0 || parts[2] != strconv.Itoa(layer) {
		return 0, false, &UnrecognizedNameError{Name: name, Reason: fmt.Sprintf("invalid layer index %q", parts[2])}
	}
	return layer, true, nil
}

// OrderKey totally orders roles. Keys compare by layer, then by the position
// inside the layer.
type OrderKey struct {
	Layer int
	Sub   int
}

// Compare returns -1, 0 or +1 like cmp.Compare.
func (k OrderKey) Compare(other OrderKey) int {
	switch {
	case k.Layer < other.Layer:
		return -1
	case k.Layer > other.Layer:
		return 1
	case k.Sub < other.Sub:
		return -1
	case k.Sub > other.Sub:
		return 1
	default:
		return 0
	}
}

// Value renders the key as the single number layer + sub/100. The embedding
// is -1 and the final norm is +Inf.
func (k OrderKey) Value() float64 {
	if k.Layer == math.MaxInt {
		return math.Inf(1)
	}
	if k.Layer < 0 {
		return -1
	}
	return float64(k.Layer) + float64(k.Sub)/100
}

func (k OrderKey) String() string {
	switch {
	case k.Layer == math.MaxInt:
		return "+Inf"
	case k.Layer < 0:
		return "-1"
	default:
		return strconv.FormatFloat(k.Value(), 'f', 2, 64)
	}
}
