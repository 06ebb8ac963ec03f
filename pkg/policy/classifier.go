// Package policy decides whether a repository change deserves a new version.
//
// Everything here is pure: callers fetch node state first and hand it over
// in an Input. The Classifier never talks to a store.
package policy

import (
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/autoversion/pkg/core"
)

// Rules is the resolved configuration a Classifier evaluates against.
type Rules struct {
	Mode                          DiffMode
	AutoVersionAssociations       bool
	AutoVersionChildAssociations  bool
	AssociationDelaySeconds       int64
	ExcludedProperties            core.QNameSet
	ExcludedAssociationTypes      core.QNameSet
	ExcludedChildAssociationTypes core.QNameSet
}

// Input is the node state relevant to one event.
type Input struct {
	// AutoVersion is cm:autoVersion, false when unset.
	AutoVersion bool
	// AutoVersionProps is cm:autoVersionOnUpdateProps, false when unset.
	AutoVersionProps bool
	// InitialVersion is cm:initialVersion, true when unset.
	InitialVersion bool
	// VersionType is the raw cm:versionType value, empty when unset.
	VersionType string

	Before core.Properties
	After  core.Properties

	AssociationType core.QName
	LastVersion     time.Time
	HasLastVersion  bool
	Now             time.Time
}

// Classifier maps an event kind and its Input to a Decision.
// A Classifier is immutable and safe for concurrent use.
type Classifier struct {
	rules Rules
}

// NewClassifier creates a Classifier for the given rules.
func NewClassifier(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Rules returns the rules the classifier was built with.
func (c *Classifier) Rules() Rules {
	return c.rules
}

// Classify is the single entry point routing every event kind to its rule.
// Kinds that never produce a version (removals, deletions, version
// notifications) are skipped; their side effects belong to the dispatcher.
func (c *Classifier) Classify(kind core.EventKind, in Input) core.Decision {
	switch kind {
	case core.EventAspectAdded:
		return c.InitialVersion(in)
	case core.EventContentUpdated:
		return c.ContentUpdate(in)
	case core.EventPropertiesUpdated:
		return c.PropertiesUpdate(in)
	case core.EventAssociationCreated, core.EventAssociationDeleted:
		return c.association(false, in)
	case core.EventChildAssociationCreated, core.EventChildAssociationDeleted:
		return c.association(true, in)
	}
	return core.Skip()
}

// InitialVersion decides on the version created when a node becomes versionable.
func (c *Classifier) InitialVersion(in Input) core.Decision {
	if !in.InitialVersion {
		return core.Skip()
	}
	kind := core.VersionMajor
	if in.VersionType == string(core.VersionMinor) {
		kind = core.VersionMinor
	}
	return core.CreateVersion(kind, core.MsgInitialVersion)
}

// ContentUpdate decides on content changes.
func (c *Classifier) ContentUpdate(in Input) core.Decision {
	if !in.AutoVersion {
		return core.Skip()
	}
	return core.CreateVersion(core.VersionMinor, core.MsgAutoVersion)
}

// PropertiesUpdate decides on property changes.
//
// In legacy mode an update is skipped when the excluded keys that appear in
// either snapshot are all unchanged, whatever happened to the other keys.
// Changed excluded keys do not block the version. This mirrors the long
// standing behaviour and is kept on purpose.
func (c *Classifier) PropertiesUpdate(in Input) core.Decision {
	if !in.AutoVersion || !in.AutoVersionProps {
		return core.Skip()
	}

	excluded := c.rules.ExcludedProperties
	if len(excluded) > 0 {
		switch c.rules.Mode {
		case DiffStrict:
			if DiffCount(in.Before, in.After, excluded) == 0 {
				return core.Skip()
			}
		default:
			if HasExcludedUnchanged(in.Before, in.After, excluded) {
				return core.Skip()
			}
		}
	}
	return core.CreateVersion(core.VersionMinor, core.MsgAutoVersionProps)
}

// AssociationApplies reports whether an association of the given type may
// trigger a version at all, before the elapsed time throttle.
func (c *Classifier) AssociationApplies(child bool, assocType core.QName, autoVersion bool) bool {
	if !autoVersion {
		return false
	}
	if child {
		return c.rules.AutoVersionChildAssociations && !c.rules.ExcludedChildAssociationTypes.Contains(assocType)
	}
	return c.rules.AutoVersionAssociations && !c.rules.ExcludedAssociationTypes.Contains(assocType)
}

func (c *Classifier) association(child bool, in Input) core.Decision {
	if !c.AssociationApplies(child, in.AssociationType, in.AutoVersion) {
		return core.Skip()
	}
	return c.Elapsed(in)
}

// Elapsed is the association throttle. A node without history has nothing
// to throttle against and is versioned.
func (c *Classifier) Elapsed(in Input) core.Decision {
	if in.HasLastVersion && ElapsedUnits(in.LastVersion, in.Now) <= c.rules.AssociationDelaySeconds {
		return core.Skip()
	}
	return core.CreateVersion(core.VersionMinor, core.MsgAutoVersionAssoc)
}

// ElapsedUnits computes (now-last)/1000 % 60 on millisecond timestamps.
//
// The result is NOT the elapsed number of seconds: it wraps every minute, so
// 65s after the last version it yields 5 and the association is throttled.
// The wraparound is deliberate and matches the established throttle; keep it.
func ElapsedUnits(last, now time.Time) int64 {
	return (now.UnixMilli() - last.UnixMilli()) / 1000 % 60
}

// Flag interprets a boolean property value. Strings are parsed, anything
// else (including absence) yields def.
func Flag(v any, present bool, def bool) bool {
	if !present || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case *bool:
		if t == nil {
			return def
		}
		return *t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return b
	}
	return def
}
