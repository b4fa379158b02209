package intent

import "strings"

type Variant uint8

const (
	VariantDirect Variant = 1 << iota
	VariantLearn
	VariantRetrieval
	VariantScript
	VariantCustom
)

var variantNames = map[Variant]string{
	VariantDirect:    "DirectAnswer",
	VariantLearn:     "LearnAnswer",
	VariantRetrieval: "RetrievalQuery",
	VariantScript:    "ScriptQuery",
	VariantCustom:    "CustomInvocation",
}

var allVariants = []Variant{VariantDirect, VariantLearn, VariantRetrieval, VariantScript, VariantCustom}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return "Unknown"
}

// ParseVariant accepts the names produced by String.
func ParseVariant(name string) (Variant, bool) {
	for v, n := range variantNames {
		if strings.EqualFold(n, name) {
			return v, true
		}
	}
	return 0, false
}

// VariantSet is the set of strategies a classifier may pick from.
type VariantSet uint8

func NewVariantSet(vs ...Variant) VariantSet {
	var s VariantSet
	for _, v := range vs {
		s |= VariantSet(v)
	}
	return s
}

func (s VariantSet) Has(v Variant) bool {
	return s&VariantSet(v) != 0
}

// Variants lists members in declaration order.
func (s VariantSet) Variants() []Variant {
	var out []Variant
	for _, v := range allVariants {
		if s.Has(v) {
			out = append(out, v)
		}
	}
	return out
}

func (s VariantSet) String() string {
	names := make([]string, 0, 5)
	for _, v := range s.Variants() {
		names = append(names, v.String())
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// Classification is exactly one response strategy. Only the types in this
// package implement it.
type Classification interface {
	Variant() Variant
	isClassification()
}

type DirectAnswer struct {
	Text string `json:"text"`
}

type LearnAnswer struct {
	Text string `json:"text"`
}

// RetrievalQuery asks for a knowledge base search. ChannelID is a
// collection id or "all".
type RetrievalQuery struct {
	Request         string `json:"request"`
	PreliminaryText string `json:"preliminary_response"`
	Query           string `json:"query"`
	ChannelID       string `json:"channel_id"`
}

// ScriptQuery carries a Go snippet to run against the resource dataset.
type ScriptQuery struct {
	Script  string `json:"script"`
	Request string `json:"request"`
}

type CustomInvocation struct {
	Capability string         `json:"capability"`
	Args       map[string]any `json:"args"`
}

func (DirectAnswer) Variant() Variant { return VariantDirect }
func (LearnAnswer) Variant() Variant { return VariantLearn }
func (RetrievalQuery) Variant() Variant { return VariantRetrieval }
func (ScriptQuery) Variant() Variant { return VariantScript }
func (CustomInvocation) Variant() Variant { return VariantCustom }

func (DirectAnswer) isClassification() {}
func (LearnAnswer) isClassification() {}
func (RetrievalQuery) isClassification() {}
func (ScriptQuery) isClassification() {}
func (CustomInvocation) isClassification() {}

// Deref turns pointer variants into values so callers can switch on value
// types. A nil pointer yields nil.
func Deref(c Classification) Classification {
	switch v := c.(type) {
	case *DirectAnswer:
		if v != nil {
			return *v
		}
	case *LearnAnswer:
		if v != nil {
			return *v
		}
	case *RetrievalQuery:
		if v != nil {
			return *v
		}
	case *ScriptQuery:
		if v != nil {
			return *v
		}
	case *CustomInvocation:
		if v != nil {
			return *v
		}
	default:
		return c
	}
	return nil
}
