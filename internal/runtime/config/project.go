package config

import (
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
	"github.com/beevik/etree"
	"gopkg.in/yaml.v3"
)

// YAML and TOML documents are projected onto an element tree: a mapping key
// becomes an element, a scalar becomes element text and a list becomes one
// element per item under the same name. "domains: {domain: [a, b]}" therefore
// answers /domains/domain exactly like the XML form does.

func projectYAML(data []byte) (*etree.Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if root.Kind == 0 {
		return doc, nil
	}
	node := &root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return doc, nil
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("yaml: top level must be a mapping")
	}
	if err := appendYAMLMapping(&doc.Element, node); err != nil {
		return nil, err
	}
	return doc, nil
}

func appendYAMLMapping(parent *etree.Element, node *yaml.Node) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		value := resolveAlias(node.Content[i+1])

		if value.Kind == yaml.SequenceNode {
			for _, item := range value.Content {
				if err := fillYAML(parent.CreateElement(name), resolveAlias(item)); err != nil {
					return err
				}
			}
			continue
		}
		if err := fillYAML(parent.CreateElement(name), value); err != nil {
			return err
		}
	}
	return nil
}

func fillYAML(el *etree.Element, node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag != "!!null" {
			el.SetText(node.Value)
		}
	case yaml.MappingNode:
		return appendYAMLMapping(el, node)
	case yaml.SequenceNode:
		return fmt.Errorf("yaml: nested list under %q is not supported", el.Tag)
	}
	return nil
}

func resolveAlias(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

func projectTOML(data []byte) (*etree.Document, error) {
	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := appendTOMLTable(&doc.Element, tree); err != nil {
		return nil, err
	}
	return doc, nil
}

// TOML tables are unordered once decoded, so keys are emitted sorted. Arrays
// keep their order.
func appendTOMLTable(parent *etree.Element, table map[string]any) error {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, name := range keys {
		switch list := table[name].(type) {
		case []any:
			for _, item := range list {
				if err := fillTOML(parent.CreateElement(name), item); err != nil {
					return err
				}
			}
			continue
		case []map[string]any:
			for _, item := range list {
				if err := appendTOMLTable(parent.CreateElement(name), item); err != nil {
					return err
				}
			}
			continue
		}
		if err := fillTOML(parent.CreateElement(name), table[name]); err != nil {
			return err
		}
	}
	return nil
}

func fillTOML(el *etree.Element, value any) error {
	switch v := value.(type) {
	case map[string]any:
		return appendTOMLTable(el, v)
	case []any:
		return fmt.Errorf("toml: nested array under %q is not supported", el.Tag)
	case nil:
	default:
		el.SetText(fmt.Sprint(v))
	}
	return nil
}
