package metadata

import (
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// HypervisorKind classifies the virtualization layer hosting the guest
type HypervisorKind string

const (
	HypervisorXen   HypervisorKind = "xen"
	HypervisorOther HypervisorKind = "other"
)

// ParseHypervisorKind validates a hypervisor override. An empty string
// is returned as is and means no override.
func ParseHypervisorKind(s string) (HypervisorKind, error) {
	switch kind := HypervisorKind(s); kind {
	case "", HypervisorXen, HypervisorOther:
		return kind, nil
	}
	return "", errors.Errorf("unknown hypervisor '%s', expected xen or other", s)
}

// Tree is the node metadata document gathered by the metadata collector:
// one mapping per cloud provider plus host facts such as "virtualization"
// and "block_device". Mapping key order from the source document is kept.
type Tree struct {
	root *Section
}

// Section is a mapping inside the metadata tree. A nil Section behaves
// like an empty mapping.
type Section struct {
	node *yaml.Node
}

// Load reads and parses a JSON or YAML metadata document from path
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read metadata file '%s'", path)
	}
	tree, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load metadata file '%s'", path)
	}
	return tree, nil
}

// Parse builds a Tree from a JSON or YAML document. An empty document
// yields an empty tree. Repeated mapping keys keep their last value.
func Parse(data []byte) (*Tree, error) {
	node, err := parseDocument(data)
	if err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal metadata")
	}
	if node == nil || node.Kind == 0 {
		return Empty(), nil
	}

	node = resolve(node)
	if node.Kind != yaml.MappingNode {
		if isNull(node) {
			return Empty(), nil
		}
		return nil, errors.Errorf("metadata root must be a mapping, got %s", kindName(node.Kind))
	}

	collapseDuplicateKeys(node)
	return &Tree{root: &Section{node: node}}, nil
}

// parseDocument returns the root node of data, or nil for an empty document
func parseDocument(data []byte) (*yaml.Node, error) {
	var jsonErr error
	if isJSONObject(data) {
		node, err := parseJSON(data)
		if err == nil {
			return node, nil
		}
		// YAML flow mappings start with '{' too
		jsonErr = err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		if jsonErr != nil {
			return nil, jsonErr
		}
		return nil, err
	}
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, nil
		}
		return doc.Content[0], nil
	}
	return &doc, nil
}

// collapseDuplicateKeys keeps one entry per mapping key: the last value,
// at the position the key first appeared
func collapseDuplicateKeys(node *yaml.Node) {
	switch node.Kind {
	case yaml.MappingNode:
		index := make(map[string]int, len(node.Content)/2)
		content := make([]*yaml.Node, 0, len(node.Content))
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if pos, ok := index[key.Value]; ok {
				content[pos+1] = value
				continue
			}
			index[key.Value] = len(content)
			content = append(content, key, value)
		}
		node.Content = content
		for i := 1; i < len(content); i += 2 {
			collapseDuplicateKeys(content[i])
		}
	case yaml.SequenceNode:
		for _, child := range node.Content {
			collapseDuplicateKeys(child)
		}
	}
}

// Empty returns a tree without any keys
func Empty() *Tree {
	return &Tree{root: &Section{node: &yaml.Node{Kind: yaml.MappingNode}}}
}

// Root returns the top level mapping
func (t *Tree) Root() *Section {
	if t == nil {
		return nil
	}
	return t.root
}

// Cloud returns the provider mapping for cloud, or nil when the tree has
// no such key or its value is not a mapping.
func (t *Tree) Cloud(cloud string) *Section {
	return t.Root().Section(cloud)
}

// HasVirtualization reports whether the tree carries virtualization.system
func (t *Tree) HasVirtualization() bool {
	_, ok := t.Root().Section("virtualization").String("system")
	return ok
}

// Hypervisor classifies virtualization.system
func (t *Tree) Hypervisor() HypervisorKind {
	system, _ := t.Root().Section("virtualization").String("system")
	if system == string(HypervisorXen) {
		return HypervisorXen
	}
	return HypervisorOther
}

// BlockDevices returns the guest inventory reported under "block_device".
// The second value is false when the tree has no such mapping.
func (t *Tree) BlockDevices() (Inventory, bool) {
	section := t.Root().Section("block_device")
	if section == nil {
		return nil, false
	}
	return NewInventory(section.Keys()...), true
}

// Keys returns the mapping keys in document order
func (s *Section) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.node.Content)/2)
	for i := 0; i+1 < len(s.node.Content); i += 2 {
		keys = append(keys, s.node.Content[i].Value)
	}
	return keys
}

// Len returns the number of keys in the mapping
func (s *Section) Len() int {
	if s == nil {
		return 0
	}
	return len(s.node.Content) / 2
}

// lookup returns the value node for key, with aliases resolved
func (s *Section) lookup(key string) *yaml.Node {
	if s == nil {
		return nil
	}
	for i := 0; i+1 < len(s.node.Content); i += 2 {
		if s.node.Content[i].Value == key {
			return resolve(s.node.Content[i+1])
		}
	}
	return nil
}

// Section returns the nested mapping under key, or nil
func (s *Section) Section(key string) *Section {
	node := s.lookup(key)
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	return &Section{node: node}
}

// String returns the scalar under key. Null values, mappings and
// sequences report false.
func (s *Section) String(key string) (string, bool) {
	node := s.lookup(key)
	if node == nil || node.Kind != yaml.ScalarNode || isNull(node) {
		return "", false
	}
	return node.Value, true
}

// Get walks nested mappings along path and returns the generic value
// found there (map[string]interface{}, []interface{} or a scalar).
func (s *Section) Get(path ...string) (interface{}, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur := s
	for _, key := range path[:len(path)-1] {
		cur = cur.Section(key)
		if cur == nil {
			return nil, false
		}
	}
	node := cur.lookup(path[len(path)-1])
	if node == nil || isNull(node) {
		return nil, false
	}
	var value interface{}
	if err := node.Decode(&value); err != nil {
		return nil, false
	}
	return value, true
}

// Decode converts a generic metadata value into a typed record. Record
// fields are matched through their `mapstructure` tags.
func Decode(in interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return errors.Wrap(err, "unable to build metadata decoder")
	}
	if err := decoder.Decode(in); err != nil {
		return errors.Wrap(err, "unable to decode metadata record")
	}
	return nil
}

func resolve(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	return node
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

func kindName(kind yaml.Kind) string {
	switch kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.MappingNode:
		return "mapping"
	default:
		return "unknown"
	}
}
