package fs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/autoversion/pkg/core"
	"github.com/aretw0/autoversion/pkg/policy"
	"github.com/aretw0/autoversion/pkg/uow"
)

// Dispatcher receives the lifecycle events of a transaction.
// *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, u *uow.UnitOfWork, e core.Event) error
	CopyProperties(props core.Properties) core.Properties
}

type txKey struct{}

func withTransaction(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func transactionFrom(ctx context.Context) *Transaction {
	tx, _ := ctx.Value(txKey{}).(*Transaction)
	return tx
}

// Transaction is a unit of work on the vault. Changes are staged in memory
// and written on Commit. BeforeAddAspect is reported as soon as an aspect is
// staged; every other event is queued and reported in order once the
// staged writes are on disk.
type Transaction struct {
	repo       *Repository
	dispatcher Dispatcher
	unit       *uow.UnitOfWork

	mu      sync.Mutex
	staged  map[core.NodeRef]*Node
	deleted map[core.NodeRef]bool // ref -> archive
	events  []core.Event
	closed  bool
}

func newTransaction(repo *Repository, d Dispatcher) *Transaction {
	return &Transaction{
		repo:       repo,
		dispatcher: d,
		unit:       uow.New(),
		staged:     make(map[core.NodeRef]*Node),
		deleted:    make(map[core.NodeRef]bool),
	}
}

// ID identifies the transaction; it is the id of its unit of work.
func (t *Transaction) ID() string {
	return t.unit.ID()
}

// UnitOfWork exposes the dedup state of the transaction.
func (t *Transaction) UnitOfWork() *uow.UnitOfWork {
	return t.unit
}

// Get returns a node as seen by the transaction.
func (t *Transaction) Get(ctx context.Context, ref core.NodeRef) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, core.ErrTransactionClosed
	}
	node, err := t.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return node.Clone(), nil
}

// load returns the staged copy of ref, staging it from disk on first use.
func (t *Transaction) load(ctx context.Context, ref core.NodeRef) (*Node, error) {
	if _, gone := t.deleted[ref]; gone {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, ref)
	}
	if node, ok := t.staged[ref]; ok {
		return node, nil
	}
	node, err := t.repo.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	t.staged[ref] = node
	return node, nil
}

func (t *Transaction) exists(ctx context.Context, ref core.NodeRef) (bool, error) {
	_, err := t.load(ctx, ref)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *Transaction) queue(e core.Event) {
	t.events = append(t.events, e)
}

// Create stages a new node carrying the given aspects.
func (t *Transaction) Create(ctx context.Context, ref core.NodeRef, content string, props core.Properties, aspects ...core.QName) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	if err := t.repo.validateRef(ref); err != nil {
		return err
	}
	exists, err := t.exists(ctx, ref)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("node %s already exists", ref)
	}
	staged, err := normalize(props)
	if err != nil {
		return err
	}

	node := &Node{
		Ref:        ref,
		Aspects:    core.QNameSet{},
		Properties: staged,
		Content:    content,
	}
	delete(t.deleted, ref)
	t.staged[ref] = node

	for _, aspect := range aspects {
		if err := t.addAspect(ctx, node, aspect, nil); err != nil {
			return err
		}
	}
	if content != "" {
		t.queue(core.Event{Kind: core.EventContentUpdated, Ref: ref, NewContent: true})
	}
	return nil
}

// AddAspect stages an aspect and its properties on an existing node.
// Adding the versionable aspect fills in its defaults.
func (t *Transaction) AddAspect(ctx context.Context, ref core.NodeRef, aspect core.QName, props core.Properties) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	node, err := t.load(ctx, ref)
	if err != nil {
		return err
	}
	if node.HasAspect(aspect) {
		return nil
	}
	staged, err := normalize(props)
	if err != nil {
		return err
	}
	return t.addAspect(ctx, node, aspect, staged)
}

func (t *Transaction) addAspect(ctx context.Context, node *Node, aspect core.QName, props core.Properties) error {
	if err := t.dispatch(ctx, core.Event{Kind: core.EventBeforeAddAspect, Ref: node.Ref, Aspect: aspect}); err != nil {
		return err
	}

	node.Aspects[aspect] = struct{}{}
	for k, v := range props {
		node.Properties[k] = v
	}
	if aspect == core.AspectVersionable {
		for k, v := range versionableDefaults {
			if _, ok := node.Properties[k]; !ok {
				node.Properties[k] = v
			}
		}
	}
	t.queue(core.Event{Kind: core.EventAspectAdded, Ref: node.Ref, Aspect: aspect})
	return nil
}

var versionableDefaults = core.Properties{
	core.PropInitialVersion:   true,
	core.PropAutoVersion:      true,
	core.PropAutoVersionProps: false,
}

// RemoveAspect stages the removal of an aspect. Removing the versionable
// aspect drops its properties too.
func (t *Transaction) RemoveAspect(ctx context.Context, ref core.NodeRef, aspect core.QName) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	node, err := t.load(ctx, ref)
	if err != nil {
		return err
	}
	if !node.HasAspect(aspect) {
		return nil
	}

	delete(node.Aspects, aspect)
	if aspect == core.AspectVersionable {
		for name := range core.VersionableAspectProperties {
			delete(node.Properties, name)
		}
	}
	t.queue(core.Event{Kind: core.EventAspectRemoved, Ref: ref, Aspect: aspect})
	return nil
}

// SetProperties merges props into the node. A nil value removes the property.
func (t *Transaction) SetProperties(ctx context.Context, ref core.NodeRef, props core.Properties) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	node, err := t.load(ctx, ref)
	if err != nil {
		return err
	}
	staged, err := normalize(props)
	if err != nil {
		return err
	}

	before := node.Properties.Clone()
	for k, v := range staged {
		if v == nil {
			delete(node.Properties, k)
			continue
		}
		node.Properties[k] = v
	}
	t.queue(core.Event{Kind: core.EventPropertiesUpdated, Ref: ref, Before: before, After: node.Properties.Clone()})
	return nil
}

// WriteContent replaces the node's content.
func (t *Transaction) WriteContent(ctx context.Context, ref core.NodeRef, content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	node, err := t.load(ctx, ref)
	if err != nil {
		return err
	}

	newContent := node.Content == ""
	node.Content = content
	t.queue(core.Event{Kind: core.EventContentUpdated, Ref: ref, NewContent: newContent})
	return nil
}

// Lock stages a lock on the node. A nil lock unlocks it.
func (t *Transaction) Lock(ctx context.Context, ref core.NodeRef, lock *Lock) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	node, err := t.load(ctx, ref)
	if err != nil {
		return err
	}
	node.Lock = lock
	return nil
}

// Associate stages a peer association from source to target.
func (t *Transaction) Associate(ctx context.Context, source, target core.NodeRef, assocType core.QName) error {
	return t.link(ctx, source, target, assocType, false)
}

// Dissociate stages the removal of a peer association.
func (t *Transaction) Dissociate(ctx context.Context, source, target core.NodeRef, assocType core.QName) error {
	return t.unlink(ctx, source, target, assocType, false)
}

// AddChild stages a parent-child association.
func (t *Transaction) AddChild(ctx context.Context, parent, child core.NodeRef, assocType core.QName) error {
	return t.link(ctx, parent, child, assocType, true)
}

// RemoveChild stages the removal of a parent-child association.
func (t *Transaction) RemoveChild(ctx context.Context, parent, child core.NodeRef, assocType core.QName) error {
	return t.unlink(ctx, parent, child, assocType, true)
}

func (t *Transaction) link(ctx context.Context, owner, other core.NodeRef, assocType core.QName, child bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	node, err := t.load(ctx, owner)
	if err != nil {
		return err
	}
	if ok, err := t.exists(ctx, other); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, other)
	}

	l := Link{Type: assocType, Target: other}
	kind := core.EventAssociationCreated
	if child {
		node.Children = append(node.Children, l)
		kind = core.EventChildAssociationCreated
	} else {
		node.Associations = append(node.Associations, l)
	}
	t.queue(core.Event{Kind: kind, Association: core.Association{Owner: owner, Other: other, Type: assocType}})
	return nil
}

func (t *Transaction) unlink(ctx context.Context, owner, other core.NodeRef, assocType core.QName, child bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	node, err := t.load(ctx, owner)
	if err != nil {
		return err
	}

	links, kind := &node.Associations, core.EventAssociationDeleted
	if child {
		links, kind = &node.Children, core.EventChildAssociationDeleted
	}
	for i, l := range *links {
		if l.Type == assocType && l.Target == other {
			*links = append((*links)[:i], (*links)[i+1:]...)
			t.queue(core.Event{Kind: kind, Association: core.Association{Owner: owner, Other: other, Type: assocType}})
			return nil
		}
	}
	return fmt.Errorf("%w: association %s -> %s", core.ErrNotFound, owner, other)
}

// Delete stages the deletion of a node. Archived nodes are moved to the
// system directory and keep their version history.
func (t *Transaction) Delete(ctx context.Context, ref core.NodeRef, archive bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	if _, err := t.load(ctx, ref); err != nil {
		return err
	}
	delete(t.staged, ref)
	t.deleted[ref] = archive
	t.queue(core.Event{Kind: core.EventNodeDeleted, Ref: ref, Archived: archive})
	return nil
}

// Copy stages a copy of src at dst. Version state does not travel with the
// copy: the copy starts its own history.
func (t *Transaction) Copy(ctx context.Context, src, dst core.NodeRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	if err := t.repo.validateRef(dst); err != nil {
		return err
	}
	original, err := t.load(ctx, src)
	if err != nil {
		return err
	}
	if exists, err := t.exists(ctx, dst); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("node %s already exists", dst)
	}

	props := policy.CopyProperties(original.Properties)
	if t.dispatcher != nil {
		props = t.dispatcher.CopyProperties(original.Properties)
	}
	node := &Node{
		Ref:        dst,
		Aspects:    core.QNameSet{},
		Properties: props,
		Content:    original.Content,
	}
	delete(t.deleted, dst)
	t.staged[dst] = node

	for aspect := range original.Aspects {
		if err := t.addAspect(ctx, node, aspect, nil); err != nil {
			return err
		}
	}
	return nil
}

// Commit writes the staged changes and reports the queued events. A
// dispatch error is returned after the writes have landed.
func (t *Transaction) Commit(ctx context.Context, changeReason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return core.ErrTransactionClosed
	}
	t.closed = true
	defer t.repo.endTransaction(t.ID())

	if err := t.repo.apply(ctx, t.staged, t.deleted, changeReason); err != nil {
		return err
	}

	ctx = withTransaction(ctx, t)
	for _, e := range t.events {
		if err := t.dispatch(ctx, e); err != nil {
			return fmt.Errorf("transaction %s: %s on %s: %w", t.ID(), e.Kind, e.Target(), err)
		}
	}

	t.repo.logger.Debug("transaction committed",
		"uow", t.ID(), "events", len(t.events), "versioned", t.unit.Versioned())
	return nil
}

// Rollback discards the staged changes. BeforeAddAspect side effects that
// already ran are not undone.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.staged = nil
	t.deleted = nil
	t.events = nil
	t.closed = true
	t.repo.endTransaction(t.ID())
	return nil
}

func (t *Transaction) dispatch(ctx context.Context, e core.Event) error {
	if t.dispatcher == nil {
		return nil
	}
	return t.dispatcher.Dispatch(ctx, t.unit, e)
}

// notify reports events raised by the repository itself while the
// transaction commits. It runs on the committing goroutine and must not
// take t.mu.
func (t *Transaction) notify(ctx context.Context, events ...core.Event) error {
	for _, e := range events {
		if err := t.dispatch(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
