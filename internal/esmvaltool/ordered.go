package esmvaltool

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Ordered is a string keyed map that keeps insertion order, also when
// written to and read from YAML. ESMValTool applies preprocessors in the
// order they appear, and readers expect variables in the order they were
// added.
type Ordered[V any] struct {
	keys   []string
	values map[string]V
}

// Set adds or replaces key. A new key goes to the end.
func (o *Ordered[V]) Set(key string, v V) {
	if o.values == nil {
		o.values = map[string]V{}
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

func (o Ordered[V]) Get(key string) (V, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o Ordered[V]) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

func (o *Ordered[V]) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	o.keys = slices.DeleteFunc(o.keys, func(k string) bool { return k == key })
}

func (o Ordered[V]) Keys() []string {
	return slices.Clone(o.keys)
}

func (o Ordered[V]) Len() int {
	return len(o.keys)
}

// Clone copies the key order and the values. Values themselves are not deep copied.
func (o Ordered[V]) Clone() Ordered[V] {
	var out Ordered[V]
	for _, k := range o.keys {
		out.Set(k, o.values[k])
	}
	return out
}

// IsZero lets yaml omitempty drop empty maps.
func (o Ordered[V]) IsZero() bool {
	return len(o.keys) == 0
}

func (o Ordered[V]) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range o.keys {
		var value yaml.Node
		if err := value.Encode(o.values[k]); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&value,
		)
	}
	return node, nil
}

func (o *Ordered[V]) UnmarshalYAML(node *yaml.Node) error {
	*o = Ordered[V]{}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v V
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("decode %s: %w", node.Content[i].Value, err)
		}
		o.Set(node.Content[i].Value, v)
	}
	return nil
}
