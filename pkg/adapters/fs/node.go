package fs

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/autoversion/pkg/core"
)

// Namespaces converts between qualified names and their prefixed form.
// *schema.Registry implements it.
type Namespaces interface {
	core.NamespaceResolver
	Prefixed(q core.QName) string
}

// LockType is the kind of lock held on a node.
type LockType string

const (
	// LockWrite only blocks identities other than the owner.
	LockWrite LockType = "write"
	// LockReadOnly blocks everyone, owner included.
	LockReadOnly LockType = "read_only"
)

// Lock is the lock state stored in a node's frontmatter.
type Lock struct {
	Type  LockType `yaml:"type" json:"type"`
	Owner string   `yaml:"owner,omitempty" json:"owner,omitempty"`
}

// Link is one end of a peer or child association, seen from its owner.
type Link struct {
	Type   core.QName
	Target core.NodeRef
}

// Node is a document of the vault: a markdown file whose frontmatter holds
// the aspects, properties, lock and associations.
type Node struct {
	Ref          core.NodeRef
	Aspects      core.QNameSet
	Properties   core.Properties
	Lock         *Lock
	Associations []Link
	Children     []Link
	Content      string
}

// HasAspect reports whether the node carries aspect.
func (n *Node) HasAspect(aspect core.QName) bool {
	return n.Aspects.Contains(aspect)
}

// Clone returns a copy that shares no maps or slices with n.
func (n *Node) Clone() *Node {
	out := *n
	out.Aspects = make(core.QNameSet, len(n.Aspects))
	for a := range n.Aspects {
		out.Aspects[a] = struct{}{}
	}
	out.Properties = n.Properties.Clone()
	if n.Lock != nil {
		lock := *n.Lock
		out.Lock = &lock
	}
	out.Associations = append([]Link(nil), n.Associations...)
	out.Children = append([]Link(nil), n.Children...)
	return &out
}

type linkRecord struct {
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
}

type frontmatter struct {
	Aspects      []string       `yaml:"aspects,omitempty"`
	Properties   map[string]any `yaml:"properties,omitempty"`
	Lock         *Lock          `yaml:"lock,omitempty"`
	Associations []linkRecord   `yaml:"associations,omitempty"`
	Children     []linkRecord   `yaml:"children,omitempty"`
}

// codec reads and writes nodes as markdown with YAML frontmatter.
type codec struct {
	ns Namespaces
}

func (c codec) parse(ref core.NodeRef, data []byte) (*Node, error) {
	node := &Node{
		Ref:        ref,
		Aspects:    core.QNameSet{},
		Properties: core.Properties{},
	}

	if !bytes.HasPrefix(data, []byte("---\n")) && !bytes.HasPrefix(data, []byte("---\r\n")) {
		node.Content = string(data)
		return node, nil
	}

	parts := bytes.SplitN(data[3:], []byte("\n---"), 2)
	if len(parts) == 1 {
		return nil, errors.New("frontmatter started but no closing delimiter found")
	}

	var fm frontmatter
	if err := yaml.Unmarshal(parts[0], &fm); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	content := strings.TrimPrefix(string(parts[1]), "\r")
	content = strings.TrimPrefix(content, "\n")
	node.Content = content
	node.Lock = fm.Lock

	for _, a := range fm.Aspects {
		q, err := core.ParseQName(a, c.ns)
		if err != nil {
			return nil, fmt.Errorf("aspect %q: %w", a, err)
		}
		node.Aspects[q] = struct{}{}
	}
	for name, value := range fm.Properties {
		q, err := core.ParseQName(name, c.ns)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		node.Properties[q] = value
	}

	var err error
	if node.Associations, err = c.parseLinks(fm.Associations); err != nil {
		return nil, err
	}
	if node.Children, err = c.parseLinks(fm.Children); err != nil {
		return nil, err
	}
	return node, nil
}

func (c codec) parseLinks(records []linkRecord) ([]Link, error) {
	if len(records) == 0 {
		return nil, nil
	}
	links := make([]Link, 0, len(records))
	for _, r := range records {
		q, err := core.ParseQName(r.Type, c.ns)
		if err != nil {
			return nil, fmt.Errorf("association type %q: %w", r.Type, err)
		}
		links = append(links, Link{Type: q, Target: core.NodeRef(r.Target)})
	}
	return links, nil
}

func (c codec) serialize(node *Node) ([]byte, error) {
	fm := frontmatter{Lock: node.Lock}

	for a := range node.Aspects {
		fm.Aspects = append(fm.Aspects, c.ns.Prefixed(a))
	}
	sort.Strings(fm.Aspects)

	if len(node.Properties) > 0 {
		fm.Properties = make(map[string]any, len(node.Properties))
		for q, v := range node.Properties {
			fm.Properties[c.ns.Prefixed(q)] = v
		}
	}
	fm.Associations = c.linkRecords(node.Associations)
	fm.Children = c.linkRecords(node.Children)

	var buf bytes.Buffer
	buf.WriteString("---\n")
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(fm); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("---\n")
	buf.WriteString(node.Content)
	return buf.Bytes(), nil
}

func (c codec) linkRecords(links []Link) []linkRecord {
	if len(links) == 0 {
		return nil
	}
	out := make([]linkRecord, 0, len(links))
	for _, l := range links {
		out = append(out, linkRecord{Type: c.ns.Prefixed(l.Type), Target: string(l.Target)})
	}
	return out
}

// propertyRecord renders a snapshot with prefixed keys, for version records.
func (c codec) propertyRecord(props core.Properties) map[string]any {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]any, len(props))
	for q, v := range props {
		out[c.ns.Prefixed(q)] = v
	}
	return out
}

// normalize returns props with the values they decode to once stored, so a
// staged snapshot compares equal to the same snapshot read back from disk
// (3.0 is stored as 3 and read back as an int). Nil values are kept: they
// mark removals.
func normalize(props core.Properties) (core.Properties, error) {
	out := make(core.Properties, len(props))
	for q, v := range props {
		if v == nil {
			out[q] = nil
			continue
		}
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", q, err)
		}
		var stored any
		if err := yaml.Unmarshal(data, &stored); err != nil {
			return nil, fmt.Errorf("property %s: %w", q, err)
		}
		out[q] = stored
	}
	return out, nil
}
