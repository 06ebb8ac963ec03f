// Package core holds the domain model of the auto-versioning engine and the
// contracts of the repository services it consumes.
package core

import (
	"fmt"
	"strings"
	"time"
)

// NodeRef identifies a versionable document. Equality is by value.
type NodeRef string

func (r NodeRef) String() string {
	return string(r)
}

// QName is a namespace qualified name used for aspects, properties and
// association types.
type QName struct {
	Namespace string
	Local     string
}

// NewQName creates a QName from a namespace URI and a local name.
func NewQName(namespace, local string) QName {
	return QName{Namespace: namespace, Local: local}
}

// String renders the name in Clark notation: {namespace}local.
func (q QName) String() string {
	return "{" + q.Namespace + "}" + q.Local
}

// IsZero reports whether the name is unset.
func (q QName) IsZero() bool {
	return q.Namespace == "" && q.Local == ""
}

// ParseQName resolves "prefix:local" through the resolver. Clark notation
// ("{uri}local") is accepted as is. A name without a prefix uses the default
// (empty) prefix, which must be known to the resolver as well.
func ParseQName(s string, resolver NamespaceResolver) (QName, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return QName{}, fmt.Errorf("%w: empty name", ErrInvalidQName)
	}

	if strings.HasPrefix(s, "{") {
		end := strings.Index(s, "}")
		if end < 0 || end == len(s)-1 {
			return QName{}, fmt.Errorf("%w: %q", ErrInvalidQName, s)
		}
		return QName{Namespace: s[1:end], Local: s[end+1:]}, nil
	}

	prefix, local := "", s
	if i := strings.Index(s, ":"); i >= 0 {
		prefix, local = s[:i], s[i+1:]
	}
	if local == "" {
		return QName{}, fmt.Errorf("%w: %q", ErrInvalidQName, s)
	}
	if resolver == nil {
		return QName{}, fmt.Errorf("%w: %q (no resolver)", ErrUnknownPrefix, prefix)
	}

	uri, ok := resolver.NamespaceURI(prefix)
	if !ok {
		return QName{}, fmt.Errorf("%w: %q", ErrUnknownPrefix, prefix)
	}
	return QName{Namespace: uri, Local: local}, nil
}

// QNameSet is an unordered set of qualified names.
type QNameSet map[QName]struct{}

// NewQNameSet builds a set from the given names.
func NewQNameSet(names ...QName) QNameSet {
	set := make(QNameSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Contains reports whether name is a member of the set. A nil set is empty.
func (s QNameSet) Contains(name QName) bool {
	_, ok := s[name]
	return ok
}

// Strings returns the members in Clark notation, unsorted.
func (s QNameSet) Strings() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n.String())
	}
	return out
}

// Properties is a snapshot of a node's property values at a point in time.
// Snapshots are treated as immutable once handed to the engine.
type Properties map[QName]any

// Keys returns the property names of the snapshot.
func (p Properties) Keys() []QName {
	keys := make([]QName, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	return keys
}

// Clone returns a shallow copy of the snapshot.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// VersionKind classifies a revision as a substantive or an incidental change.
type VersionKind string

const (
	VersionMajor VersionKind = "MAJOR"
	VersionMinor VersionKind = "MINOR"
)

// ParseVersionKind maps a stored version type value to a VersionKind.
func ParseVersionKind(s string) (VersionKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(VersionMajor):
		return VersionMajor, nil
	case string(VersionMinor):
		return VersionMinor, nil
	}
	return "", fmt.Errorf("unknown version kind %q", s)
}

// Description keys for automatically created versions.
const (
	MsgInitialVersion   = "create_version.initial_version"
	MsgAutoVersion      = "create_version.auto_version"
	MsgAutoVersionProps = "create_version.auto_version_props"
	MsgAutoVersionAssoc = "create_version.auto_version_assoc"
)

// VersionRequest asks the version store for a new snapshot of a node.
// It is produced and consumed within a single dispatch.
type VersionRequest struct {
	Ref            NodeRef
	Kind           VersionKind
	DescriptionKey string
	Description    string
}

// Version is a snapshot recorded by the version store.
type Version struct {
	ID          string
	Ref         NodeRef
	Label       string
	Kind        VersionKind
	Description string
	Creator     string
	Created     time.Time
}

// Action is the outcome class of a classification.
type Action int

const (
	ActionSkip Action = iota
	ActionCreateVersion
)

// Decision is either Skip or CreateVersion{Kind, DescriptionKey}.
type Decision struct {
	Action         Action
	Kind           VersionKind
	DescriptionKey string
}

// Skip is the decision not to create a version.
func Skip() Decision {
	return Decision{Action: ActionSkip}
}

// CreateVersion is the decision to create a version of the given kind.
func CreateVersion(kind VersionKind, descriptionKey string) Decision {
	return Decision{Action: ActionCreateVersion, Kind: kind, DescriptionKey: descriptionKey}
}

// ShouldCreate reports whether the decision asks for a new version.
func (d Decision) ShouldCreate() bool {
	return d.Action == ActionCreateVersion
}

func (d Decision) String() string {
	if !d.ShouldCreate() {
		return "skip"
	}
	return fmt.Sprintf("create(%s, %s)", d.Kind, d.DescriptionKey)
}
