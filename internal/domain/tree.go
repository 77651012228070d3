package domain

import (
	"context"
	"fmt"

	"github.com/couchcryptid/climate-risk-api/internal/units"
)

// NodeKind identifies the shape of a response tree node.
type NodeKind int

const (
	ScalarQuantity NodeKind = iota
	ListQuantity
	CompositeNode
)

func (k NodeKind) String() string {
	switch k {
	case ScalarQuantity:
		return "scalar"
	case ListQuantity:
		return "list"
	case CompositeNode:
		return "composite"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// Node is one element of a unit-tagged response tree. Quantity nodes point at
// fields of the schema value that built them, so converting the tree rewrites
// the schema in place.
type Node struct {
	kind   NodeKind
	name   string
	scalar *float64
	list   []float64

	tags     []*tag
	ratios   []ratio
	children []*Node
	guards   []Guard
}

// Guard vetoes a conversion before anything is applied.
type Guard func(reg *units.Registry, targets units.Targets) error

type tag struct {
	field    string
	unit     *string
	absolute []*Node
	deltas   []*Node
}

type ratio struct {
	numerator   string
	denominator string
	values      []*Node
}

// Scalar returns a node for a single optional value. A nil pointer is an
// absent value and is never converted.
func Scalar(v *float64) *Node {
	return &Node{kind: ScalarQuantity, scalar: v}
}

// List returns a node whose values are converted element-wise.
func List(v []float64) *Node {
	return &Node{kind: ListQuantity, list: v}
}

// Composite returns a named node that carries unit tags and children.
func Composite(name string) *Node {
	return &Node{kind: CompositeNode, name: name}
}

// Kind reports the node's shape.
func (n *Node) Kind() NodeKind { return n.kind }

// Name returns the name a composite node was built with.
func (n *Node) Name() string { return n.name }

// Tag associates absolute quantities with the unit tag field. unit points at
// the schema's tag field; nil or empty means the tag is absent.
func (n *Node) Tag(field string, unit *string, quantities ...*Node) *Node {
	t := n.tag(field, unit)
	t.absolute = append(t.absolute, quantities...)
	return n
}

// TagDeltas associates differences (such as a change in temperature) with a
// unit tag. Deltas are rescaled without the unit's offset.
func (n *Node) TagDeltas(field string, unit *string, quantities ...*Node) *Node {
	t := n.tag(field, unit)
	t.deltas = append(t.deltas, quantities...)
	return n
}

// Ratio declares quantities expressed in numerator-unit per denominator-unit,
// where both are tag fields of this node.
func (n *Node) Ratio(numerator, denominator string, quantities ...*Node) *Node {
	n.ratios = append(n.ratios, ratio{numerator: numerator, denominator: denominator, values: quantities})
	return n
}

// Child appends child nodes. Nil children are skipped.
func (n *Node) Child(children ...*Node) *Node {
	for _, c := range children {
		if c != nil {
			n.children = append(n.children, c)
		}
	}
	return n
}

// Guard registers a check that runs while the conversion is planned.
func (n *Node) Guard(g Guard) *Node {
	n.guards = append(n.guards, g)
	return n
}

func (n *Node) tag(field string, unit *string) *tag {
	for _, t := range n.tags {
		if t.field == field {
			return t
		}
	}
	t := &tag{field: field, unit: unit}
	n.tags = append(n.tags, t)
	return t
}

func (n *Node) apply(fn units.Func) {
	switch n.kind {
	case ScalarQuantity:
		if n.scalar != nil {
			*n.scalar = fn(*n.scalar)
		}
	case ListQuantity:
		for i := range n.list {
			n.list[i] = fn(n.list[i])
		}
	}
}

// Convertible is implemented by response schemas that can describe their
// unit-bearing fields as a tree.
type Convertible interface {
	Tree() *Node
}

// Convert re-expresses a response schema in the target units.
func Convert(ctx context.Context, conv *units.Converter, v Convertible, targets units.Targets) error {
	return ConvertTree(ctx, conv, v.Tree(), targets)
}

type step struct {
	node *Node
	fn   units.Func
}

type retag struct {
	unit *string
	to   string
}

type plan struct {
	steps  []step
	retags []retag
	seen   map[*Node]string
}

// ConvertTree rewrites every tagged quantity under root into the target
// unit for its dimension and updates the tags to match. The whole tree is
// planned first: any error is returned before a single value changes.
//
// Tags holding an unconvertible label pass through unchanged unless targets
// names a different label for the same dimension, which fails with
// units.ErrConversion. A convertible tag whose dimension has no target fails
// with units.ErrMissingUnitTarget.
func ConvertTree(ctx context.Context, conv *units.Converter, root *Node, targets units.Targets) error {
	p := &plan{seen: make(map[*Node]string)}
	if err := p.walk(ctx, conv, root, targets, root.name); err != nil {
		return err
	}
	for _, s := range p.steps {
		s.node.apply(s.fn)
	}
	for _, r := range p.retags {
		*r.unit = r.to
	}
	return nil
}

func (p *plan) walk(ctx context.Context, conv *units.Converter, n *Node, targets units.Targets, path string) error {
	if n.kind != CompositeNode {
		return nil
	}
	reg := conv.Registry()

	for _, g := range n.guards {
		if err := g(reg, targets); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	// from/to per tag field, after aliasing.
	resolved := make(map[string][2]string, len(n.tags))
	for _, t := range n.tags {
		if t.unit == nil || *t.unit == "" {
			continue
		}
		where := path + "." + t.field
		from, to, err := resolveTag(reg, *t.unit, targets)
		if err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		resolved[t.field] = [2]string{from, to}

		if from != to {
			if err := p.add(where, t.absolute, func() (units.Func, error) { return conv.Make(ctx, from, to) }); err != nil {
				return err
			}
			if err := p.add(where, t.deltas, func() (units.Func, error) { return conv.MakeDelta(ctx, from, to) }); err != nil {
				return err
			}
		} else {
			if err := p.claim(where, t.absolute); err != nil {
				return err
			}
			if err := p.claim(where, t.deltas); err != nil {
				return err
			}
		}
		if *t.unit != to {
			p.retags = append(p.retags, retag{unit: t.unit, to: to})
		}
	}

	for _, r := range n.ratios {
		where := path + "." + r.numerator + "/" + r.denominator
		num, okNum := resolved[r.numerator]
		den, okDen := resolved[r.denominator]
		if !okNum {
			num = [2]string{"", ""}
		}
		if !okDen {
			den = [2]string{"", ""}
		}
		if num[0] == num[1] && den[0] == den[1] {
			if err := p.claim(where, r.values); err != nil {
				return err
			}
			continue
		}
		factor, err := conv.Ratio(ctx, num[0], num[1], den[0], den[1])
		if err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if err := p.add(where, r.values, func() (units.Func, error) {
			return func(x float64) float64 { return x * factor }, nil
		}); err != nil {
			return err
		}
	}

	for i, c := range n.children {
		childPath := fmt.Sprintf("%s[%d]", path, i)
		if c.name != "" {
			childPath = path + "." + c.name
		}
		if err := p.walk(ctx, conv, c, targets, childPath); err != nil {
			return err
		}
	}
	return nil
}

// add schedules fn for every quantity, building fn only if there is
// something to convert.
func (p *plan) add(where string, quantities []*Node, build func() (units.Func, error)) error {
	if len(quantities) == 0 {
		return nil
	}
	if err := p.claim(where, quantities); err != nil {
		return err
	}
	fn, err := build()
	if err != nil {
		return fmt.Errorf("%s: %w", where, err)
	}
	for _, q := range quantities {
		p.steps = append(p.steps, step{node: q, fn: fn})
	}
	return nil
}

// claim records that a quantity is governed by where. A quantity governed
// by two tags would be rescaled twice.
func (p *plan) claim(where string, quantities []*Node) error {
	for _, q := range quantities {
		if q.kind == CompositeNode {
			return fmt.Errorf("%w: %s associates a composite node with a unit tag", ErrInvariant, where)
		}
		if prev, ok := p.seen[q]; ok {
			return fmt.Errorf("%w: quantity governed by both %s and %s", ErrInvariant, prev, where)
		}
		p.seen[q] = where
	}
	return nil
}

// resolveTag returns the canonical current unit of a tag and the unit it
// should end up in.
func resolveTag(reg *units.Registry, unit string, targets units.Targets) (string, string, error) {
	from := reg.Canonical(unit)
	dim, err := reg.DimensionOf(from)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", units.ErrConversion, err)
	}
	want, ok := targets[dim]

	if reg.IsUnconvertible(from) {
		if ok && want != "" && reg.Canonical(want) != from {
			return "", "", fmt.Errorf("%w: %s is not convertible to %s", units.ErrConversion, from, want)
		}
		return from, from, nil
	}
	if !ok || want == "" {
		return "", "", fmt.Errorf("%w: %s (tagged %s)", units.ErrMissingUnitTarget, dim, from)
	}
	return from, reg.Canonical(want), nil
}
