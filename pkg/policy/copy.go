package policy

import "github.com/aretw0/autoversion/pkg/core"

// CopyProperties returns the properties a copy of a versionable node starts
// with. Of the versionable aspect only cm:autoVersion and
// cm:autoVersionOnUpdateProps survive; labels, the initial-version flag and
// the version type stay with the original's history. Other properties are
// copied unchanged.
func CopyProperties(props core.Properties) core.Properties {
	out := make(core.Properties, len(props))
	for name, value := range props {
		if core.VersionableAspectProperties.Contains(name) &&
			name != core.PropAutoVersion && name != core.PropAutoVersionProps {
			continue
		}
		if (name == core.PropAutoVersion || name == core.PropAutoVersionProps) && value == nil {
			continue
		}
		out[name] = value
	}
	return out
}
