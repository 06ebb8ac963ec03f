package policy

import "github.com/aretw0/autoversion/pkg/core"

// Messages is a static MessageSource. Unknown keys resolve to themselves.
type Messages map[string]string

// DefaultMessages carries the English descriptions of automatic versions.
var DefaultMessages = Messages{
	core.MsgInitialVersion:   "Initial Version",
	core.MsgAutoVersion:      "Auto Version",
	core.MsgAutoVersionProps: "Auto Version on Properties Update",
	core.MsgAutoVersionAssoc: "Auto Version on Association Update",
}

// Message implements core.MessageSource.
func (m Messages) Message(key string) string {
	if text, ok := m[key]; ok {
		return text
	}
	return key
}

var _ core.MessageSource = Messages(nil)
