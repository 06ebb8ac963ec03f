package core

// EventKind tags a repository lifecycle notification.
type EventKind int

const (
	EventBeforeAddAspect EventKind = iota + 1
	EventAspectAdded
	EventAspectRemoved
	EventContentUpdated
	EventPropertiesUpdated
	EventAssociationCreated
	EventAssociationDeleted
	EventChildAssociationCreated
	EventChildAssociationDeleted
	EventNodeDeleted
	EventVersionCreated
)

var eventKindNames = map[EventKind]string{
	EventBeforeAddAspect:         "before_add_aspect",
	EventAspectAdded:             "aspect_added",
	EventAspectRemoved:           "aspect_removed",
	EventContentUpdated:          "content_updated",
	EventPropertiesUpdated:       "properties_updated",
	EventAssociationCreated:      "association_created",
	EventAssociationDeleted:      "association_deleted",
	EventChildAssociationCreated: "child_association_created",
	EventChildAssociationDeleted: "child_association_deleted",
	EventNodeDeleted:             "node_deleted",
	EventVersionCreated:          "version_created",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsAssociation reports whether the kind is one of the four association events.
func (k EventKind) IsAssociation() bool {
	switch k {
	case EventAssociationCreated, EventAssociationDeleted,
		EventChildAssociationCreated, EventChildAssociationDeleted:
		return true
	}
	return false
}

// IsChildAssociation reports whether the kind concerns a parent-child association.
func (k EventKind) IsChildAssociation() bool {
	return k == EventChildAssociationCreated || k == EventChildAssociationDeleted
}

// Association describes a peer (source -> target) or a parent-child link.
// Owner is the node whose version history the change belongs to: the source
// of a peer association, the parent of a child association.
type Association struct {
	Owner NodeRef
	Other NodeRef
	Type  QName
}

// Event is a single lifecycle notification. Which fields are meaningful
// depends on Kind:
//
//   - aspect events: Ref, Aspect
//   - ContentUpdated: Ref, NewContent
//   - PropertiesUpdated: Ref, Before, After
//   - association events: Association
//   - NodeDeleted: Ref, Archived
//   - VersionCreated: Ref, Version
type Event struct {
	Kind        EventKind
	Ref         NodeRef
	Aspect      QName
	NewContent  bool
	Before      Properties
	After       Properties
	Association Association
	Archived    bool
	Version     *Version
}

// Target returns the node the event is about.
func (e Event) Target() NodeRef {
	if e.Kind.IsAssociation() {
		return e.Association.Owner
	}
	return e.Ref
}
