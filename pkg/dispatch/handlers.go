package dispatch

import (
	"context"
	"fmt"

	"github.com/aretw0/autoversion/pkg/core"
	"github.com/aretw0/autoversion/pkg/policy"
	"github.com/aretw0/autoversion/pkg/uow"
)

// BeforeAddAspect purges a stale version history left behind by a node that
// lost the versionable aspect, before the aspect is applied again. The check
// and the purge run as the system identity.
func (d *Dispatcher) BeforeAddAspect(ctx context.Context, u *uow.UnitOfWork, ref core.NodeRef, aspect core.QName) error {
	if !d.Enabled() || aspect != core.AspectVersionable {
		return nil
	}

	sysCtx, release, err := d.auth.Acquire(ctx, d.auth.SystemUser())
	if err != nil {
		return fmt.Errorf("failed to acquire system identity: %w", err)
	}
	defer release()

	exists, err := d.nodes.Exists(sysCtx, ref)
	if err != nil || !exists {
		return err
	}
	versionable, err := d.nodes.HasAspect(sysCtx, ref, core.AspectVersionable)
	if err != nil || versionable {
		return err
	}
	_, hasHistory, err := d.versions.LatestVersionTime(sysCtx, ref)
	if err != nil || !hasHistory {
		return err
	}

	if err := d.deleteHistory(sysCtx, ref); err != nil {
		return err
	}
	d.logger.Warn("deleted version history of a node without the versionable aspect", "ref", ref, "uow", u.ID())
	return nil
}

// OnAddAspect creates the initial version when a node becomes versionable.
func (d *Dispatcher) OnAddAspect(ctx context.Context, u *uow.UnitOfWork, ref core.NodeRef, aspect core.QName) error {
	if !d.Enabled() || aspect != core.AspectVersionable {
		return nil
	}
	const kind = core.EventAspectAdded

	exists, err := d.nodes.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !exists {
		return d.settle(kind, ref, OutcomeIneligible)
	}
	versionable, err := d.nodes.HasAspect(ctx, ref, core.AspectVersionable)
	if err != nil {
		return err
	}
	if !versionable {
		return d.settle(kind, ref, OutcomeIneligible)
	}
	if u.AlreadyVersioned(ref) {
		return d.settle(kind, ref, OutcomeDuplicate)
	}

	initial, err := d.flag(ctx, ref, core.PropInitialVersion, true)
	if err != nil {
		return err
	}
	versionType, err := d.stringProperty(ctx, ref, core.PropVersionType)
	if err != nil {
		return err
	}

	decision := d.Classifier().Classify(kind, policy.Input{
		InitialVersion: initial,
		VersionType:    versionType,
	})
	return d.apply(ctx, u, kind, ref, decision)
}

// OnRemoveAspect deletes the whole version history of a node that is no
// longer versionable.
func (d *Dispatcher) OnRemoveAspect(ctx context.Context, u *uow.UnitOfWork, ref core.NodeRef, aspect core.QName) error {
	if !d.Enabled() || aspect != core.AspectVersionable {
		return nil
	}
	return d.deleteHistory(ctx, ref)
}

// OnDeleteNode deletes the version history of a permanently deleted node.
// Archived nodes keep their history.
func (d *Dispatcher) OnDeleteNode(ctx context.Context, u *uow.UnitOfWork, ref core.NodeRef, archived bool) error {
	if !d.Enabled() || archived {
		return nil
	}
	return d.deleteHistory(ctx, ref)
}

// OnContentUpdate versions a node whose content changed.
func (d *Dispatcher) OnContentUpdate(ctx context.Context, u *uow.UnitOfWork, ref core.NodeRef, newContent bool) error {
	if !d.Enabled() {
		return nil
	}
	const kind = core.EventContentUpdated

	ok, err := d.eligible(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return d.settle(kind, ref, OutcomeIneligible)
	}
	if u.AlreadyVersioned(ref) {
		return d.settle(kind, ref, OutcomeDuplicate)
	}

	autoVersion, err := d.flag(ctx, ref, core.PropAutoVersion, false)
	if err != nil {
		return err
	}
	decision := d.Classifier().Classify(kind, policy.Input{AutoVersion: autoVersion})
	return d.apply(ctx, u, kind, ref, decision)
}

// OnUpdateProperties versions a node whose properties changed. The handler
// is suspended on u while it runs, so property writes made by the version
// store (the new version label) do not re-enter it.
func (d *Dispatcher) OnUpdateProperties(ctx context.Context, u *uow.UnitOfWork, ref core.NodeRef, before, after core.Properties) error {
	if !d.Enabled() {
		return nil
	}
	const kind = core.EventPropertiesUpdated

	if u.Suspended(uow.HookUpdateProperties) {
		return d.settle(kind, ref, OutcomeSuspended)
	}

	ok, err := d.eligible(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return d.settle(kind, ref, OutcomeIneligible)
	}

	release := u.Suspend(uow.HookUpdateProperties)
	defer release()

	if u.AlreadyVersioned(ref) {
		return d.settle(kind, ref, OutcomeDuplicate)
	}

	autoVersion, err := d.flag(ctx, ref, core.PropAutoVersion, false)
	if err != nil {
		return err
	}
	autoVersionProps, err := d.flag(ctx, ref, core.PropAutoVersionProps, false)
	if err != nil {
		return err
	}

	decision := d.Classifier().Classify(kind, policy.Input{
		AutoVersion:      autoVersion,
		AutoVersionProps: autoVersionProps,
		Before:           before,
		After:            after,
	})
	return d.apply(ctx, u, kind, ref, decision)
}

// OnCreateAssociation handles a new peer association on its source node.
func (d *Dispatcher) OnCreateAssociation(ctx context.Context, u *uow.UnitOfWork, a core.Association) error {
	return d.onAssociation(ctx, u, core.EventAssociationCreated, a)
}

// OnDeleteAssociation handles a removed peer association on its source node.
func (d *Dispatcher) OnDeleteAssociation(ctx context.Context, u *uow.UnitOfWork, a core.Association) error {
	return d.onAssociation(ctx, u, core.EventAssociationDeleted, a)
}

// OnCreateChildAssociation handles a new child on its parent node.
func (d *Dispatcher) OnCreateChildAssociation(ctx context.Context, u *uow.UnitOfWork, a core.Association) error {
	return d.onAssociation(ctx, u, core.EventChildAssociationCreated, a)
}

// OnDeleteChildAssociation handles a removed child on its parent node.
func (d *Dispatcher) OnDeleteChildAssociation(ctx context.Context, u *uow.UnitOfWork, a core.Association) error {
	return d.onAssociation(ctx, u, core.EventChildAssociationDeleted, a)
}

func (d *Dispatcher) onAssociation(ctx context.Context, u *uow.UnitOfWork, kind core.EventKind, a core.Association) error {
	if !d.Enabled() {
		return nil
	}
	rules := d.Classifier().Rules()
	child := kind.IsChildAssociation()
	if (child && !rules.AutoVersionChildAssociations) || (!child && !rules.AutoVersionAssociations) {
		return nil
	}

	exists, err := d.nodes.Exists(ctx, a.Owner)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s %s -> %s: %w", kind, a.Owner, a.Other, core.ErrSourceMissing)
	}

	ok, err := d.eligible(ctx, a.Owner)
	if err != nil {
		return err
	}
	if !ok {
		return d.settle(kind, a.Owner, OutcomeIneligible)
	}
	if u.AlreadyVersioned(a.Owner) {
		return d.settle(kind, a.Owner, OutcomeDuplicate)
	}

	autoVersion, err := d.flag(ctx, a.Owner, core.PropAutoVersion, false)
	if err != nil {
		return err
	}

	c := d.Classifier()
	in := policy.Input{
		AutoVersion:     autoVersion,
		AssociationType: a.Type,
		Now:             d.now(),
	}
	if c.AssociationApplies(child, a.Type, autoVersion) {
		in.LastVersion, in.HasLastVersion, err = d.versions.LatestVersionTime(ctx, a.Owner)
		if err != nil {
			return err
		}
	}
	return d.apply(ctx, u, kind, a.Owner, c.Classify(kind, in))
}

// AfterCreateVersion records a version created by anyone in the unit of
// work, so later events on the same node are suppressed.
func (d *Dispatcher) AfterCreateVersion(ctx context.Context, u *uow.UnitOfWork, ref core.NodeRef, v core.Version) error {
	if !d.Enabled() {
		return nil
	}
	if u.MarkVersioned(ref) {
		d.logger.Debug("recorded external version", "ref", ref, "label", v.Label, "uow", u.ID())
	}
	return nil
}

// eligible checks the preconditions shared by update events: the node
// exists, is not locked read-only, is versionable and is not temporary.
func (d *Dispatcher) eligible(ctx context.Context, ref core.NodeRef) (bool, error) {
	exists, err := d.nodes.Exists(ctx, ref)
	if err != nil || !exists {
		return false, err
	}
	locked, err := d.locks.IsLockedReadOnly(ctx, ref)
	if err != nil || locked {
		return false, err
	}
	versionable, err := d.nodes.HasAspect(ctx, ref, core.AspectVersionable)
	if err != nil || !versionable {
		return false, err
	}
	temporary, err := d.nodes.HasAspect(ctx, ref, core.AspectTemporary)
	if err != nil {
		return false, err
	}
	return !temporary, nil
}

func (d *Dispatcher) flag(ctx context.Context, ref core.NodeRef, name core.QName, def bool) (bool, error) {
	v, ok, err := d.nodes.GetProperty(ctx, ref, name)
	if err != nil {
		return false, err
	}
	return policy.Flag(v, ok, def), nil
}

func (d *Dispatcher) stringProperty(ctx context.Context, ref core.NodeRef, name core.QName) (string, error) {
	v, ok, err := d.nodes.GetProperty(ctx, ref, name)
	if err != nil || !ok || v == nil {
		return "", err
	}
	if s, isString := v.(string); isString {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

func (d *Dispatcher) apply(ctx context.Context, u *uow.UnitOfWork, kind core.EventKind, ref core.NodeRef, decision core.Decision) error {
	if !decision.ShouldCreate() {
		return d.settle(kind, ref, OutcomeSkipped)
	}
	if err := d.createVersion(ctx, u, ref, decision); err != nil {
		return err
	}
	return d.settle(kind, ref, OutcomeCreated)
}

// createVersion requests the version under the configured identity: the
// acting user in custom diff mode, the system user otherwise. The node is
// recorded in the dedup set before the request.
func (d *Dispatcher) createVersion(ctx context.Context, u *uow.UnitOfWork, ref core.NodeRef, decision core.Decision) error {
	user := d.auth.SystemUser()
	if d.settings.CustomDiffMode {
		user = d.auth.CurrentUser(ctx)
	}

	runCtx, release, err := d.auth.Acquire(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to acquire identity %q: %w", user, err)
	}
	defer release()

	u.MarkVersioned(ref)

	v, err := d.versions.CreateVersion(runCtx, core.VersionRequest{
		Ref:            ref,
		Kind:           decision.Kind,
		DescriptionKey: decision.DescriptionKey,
		Description:    d.messages.Message(decision.DescriptionKey),
	})
	if err != nil {
		return fmt.Errorf("failed to create version of %s: %w", ref, err)
	}

	d.logger.Debug("version created", "ref", ref, "label", v.Label, "kind", v.Kind, "user", user, "uow", u.ID())
	return nil
}

func (d *Dispatcher) deleteHistory(ctx context.Context, ref core.NodeRef) error {
	if err := d.versions.DeleteHistory(ctx, ref); err != nil {
		return fmt.Errorf("failed to delete version history of %s: %w", ref, err)
	}
	d.deletions.Add(1)
	d.observer.ObserveHistoryDeleted(ref)
	d.logger.Debug("version history deleted", "ref", ref)
	return nil
}

func (d *Dispatcher) settle(kind core.EventKind, ref core.NodeRef, outcome Outcome) error {
	switch outcome {
	case OutcomeCreated:
		d.created.Add(1)
	case OutcomeDuplicate:
		d.duplicates.Add(1)
	default:
		d.skipped.Add(1)
	}
	d.observer.ObserveDecision(kind, outcome)
	d.logger.Debug("event settled", "event", kind.String(), "ref", ref, "outcome", string(outcome))
	return nil
}
