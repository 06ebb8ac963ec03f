package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prefixes map[string]string

func (p prefixes) NamespaceURI(prefix string) (string, bool) {
	uri, ok := p[prefix]
	return uri, ok
}

func TestParseQName(t *testing.T) {
	resolver := prefixes{"cm": ContentModelURI, "": "urn:default"}

	tests := []struct {
		in      string
		want    QName
		wantErr error
	}{
		{"cm:title", NewQName(ContentModelURI, "title"), nil},
		{" cm:title ", NewQName(ContentModelURI, "title"), nil},
		{"{urn:x}name", NewQName("urn:x", "name"), nil},
		{"plain", NewQName("urn:default", "plain"), nil},
		{"acme:score", QName{}, ErrUnknownPrefix},
		{"", QName{}, ErrInvalidQName},
		{"cm:", QName{}, ErrInvalidQName},
		{"{urn:x}", QName{}, ErrInvalidQName},
		{"{urn:x", QName{}, ErrInvalidQName},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseQName(tt.in, resolver)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseQName("cm:title", nil)
	assert.ErrorIs(t, err, ErrUnknownPrefix)
}

func TestQName_String(t *testing.T) {
	assert.Equal(t, "{"+ContentModelURI+"}versionable", AspectVersionable.String())
	assert.True(t, QName{}.IsZero())
	assert.False(t, AspectVersionable.IsZero())
}

func TestParseVersionKind(t *testing.T) {
	kind, err := ParseVersionKind(" minor ")
	require.NoError(t, err)
	assert.Equal(t, VersionMinor, kind)

	kind, err = ParseVersionKind("MAJOR")
	require.NoError(t, err)
	assert.Equal(t, VersionMajor, kind)

	_, err = ParseVersionKind("patch")
	assert.Error(t, err)
}

func TestEvent_Target(t *testing.T) {
	assoc := Event{
		Kind:        EventChildAssociationCreated,
		Ref:         "ignored",
		Association: Association{Owner: "parent", Other: "child"},
	}
	assert.Equal(t, NodeRef("parent"), assoc.Target())
	assert.True(t, assoc.Kind.IsChildAssociation())

	update := Event{Kind: EventContentUpdated, Ref: "doc"}
	assert.Equal(t, NodeRef("doc"), update.Target())
	assert.Equal(t, "content_updated", update.Kind.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}

func TestDecision(t *testing.T) {
	assert.False(t, Skip().ShouldCreate())
	assert.Equal(t, "skip", Skip().String())

	d := CreateVersion(VersionMinor, MsgAutoVersion)
	assert.True(t, d.ShouldCreate())
	assert.Equal(t, "create(MINOR, "+MsgAutoVersion+")", d.String())
}
