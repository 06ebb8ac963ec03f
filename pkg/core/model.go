package core

// Namespaces known to every repository.
const (
	ContentModelURI    = "http://www.alfresco.org/model/content/1.0"
	ContentModelPrefix = "cm"
	SystemModelURI     = "http://www.alfresco.org/model/system/1.0"
	SystemModelPrefix  = "sys"
)

// Aspects consulted by the engine.
var (
	AspectVersionable = NewQName(ContentModelURI, "versionable")
	AspectTemporary   = NewQName(SystemModelURI, "temporary")
)

// Properties of the versionable aspect.
var (
	PropAutoVersion      = NewQName(ContentModelURI, "autoVersion")
	PropAutoVersionProps = NewQName(ContentModelURI, "autoVersionOnUpdateProps")
	PropInitialVersion   = NewQName(ContentModelURI, "initialVersion")
	PropVersionType      = NewQName(ContentModelURI, "versionType")
	PropVersionLabel     = NewQName(ContentModelURI, "versionLabel")
)

// VersionableAspectProperties lists every property owned by the versionable aspect.
var VersionableAspectProperties = NewQNameSet(
	PropAutoVersion,
	PropAutoVersionProps,
	PropInitialVersion,
	PropVersionType,
	PropVersionLabel,
)
