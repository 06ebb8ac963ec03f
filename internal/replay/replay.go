// Package replay applies scripted changes to a vault. A script is a list of
// transactions, each a list of steps:
//
//	transactions:
//	  - reason: import report
//	    user: alice
//	    steps:
//	      - op: create
//	        ref: notes/report
//	        content: "# Report"
//	        aspects: [cm:versionable]
//	      - op: set
//	        ref: notes/report
//	        properties:
//	          cm:title: Report
//	          cm:description: null
package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/autoversion/pkg/adapters/fs"
	"github.com/aretw0/autoversion/pkg/auth"
	"github.com/aretw0/autoversion/pkg/core"
)

// Script is the content of a replay file.
type Script struct {
	Transactions []Batch `yaml:"transactions"`
}

// Batch is one transaction.
type Batch struct {
	Reason string `yaml:"reason,omitempty"`
	User   string `yaml:"user,omitempty"`
	Steps  []Step `yaml:"steps"`
}

// Step is a single operation. Which fields are used depends on Op.
type Step struct {
	Op         string         `yaml:"op"`
	Ref        string         `yaml:"ref"`
	Target     string         `yaml:"target,omitempty"`
	Type       string         `yaml:"type,omitempty"`
	Content    string         `yaml:"content,omitempty"`
	Aspect     string         `yaml:"aspect,omitempty"`
	Aspects    []string       `yaml:"aspects,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
	Archive    bool           `yaml:"archive,omitempty"`
	Lock       fs.LockType    `yaml:"lock,omitempty"`
	Owner      string         `yaml:"owner,omitempty"`
}

// Beginner starts transactions. *platform.Engine implements it.
type Beginner interface {
	Begin(ctx context.Context) (*fs.Transaction, error)
}

// Load reads a script file.
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a script. Unknown fields are rejected.
func Parse(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	for i, b := range s.Transactions {
		for j, step := range b.Steps {
			if _, ok := operations[step.Op]; !ok {
				return nil, fmt.Errorf("transaction %d step %d: unknown op %q", i+1, j+1, step.Op)
			}
			if step.Ref == "" {
				return nil, fmt.Errorf("transaction %d step %d: ref is required", i+1, j+1)
			}
		}
	}
	return &s, nil
}

// Run applies every transaction of the script in order and returns the
// refs it touched, sorted. It stops at the first failing transaction, which
// is rolled back.
func Run(ctx context.Context, b Beginner, resolver core.NamespaceResolver, s *Script) ([]core.NodeRef, error) {
	touched := make(map[core.NodeRef]struct{})

	for i, batch := range s.Transactions {
		txCtx := ctx
		if batch.User != "" {
			txCtx = auth.WithUser(ctx, batch.User)
		}

		tx, err := b.Begin(txCtx)
		if err != nil {
			return nil, err
		}
		for j, step := range batch.Steps {
			if err := apply(txCtx, tx, resolver, step); err != nil {
				_ = tx.Rollback(txCtx)
				return nil, fmt.Errorf("transaction %d step %d (%s %s): %w", i+1, j+1, step.Op, step.Ref, err)
			}
			touched[core.NodeRef(step.Ref)] = struct{}{}
		}
		if err := tx.Commit(txCtx, batch.Reason); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i+1, err)
		}
	}

	refs := make([]core.NodeRef, 0, len(touched))
	for ref := range touched {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

type operation func(ctx context.Context, tx *fs.Transaction, ns core.NamespaceResolver, s Step) error

var operations = map[string]operation{
	"create": func(ctx context.Context, tx *fs.Transaction, ns core.NamespaceResolver, s Step) error {
		props, err := properties(s.Properties, ns)
		if err != nil {
			return err
		}
		aspects := make([]core.QName, 0, len(s.Aspects))
		for _, a := range s.Aspects {
			q, err := core.ParseQName(a, ns)
			if err != nil {
				return err
			}
			aspects = append(aspects, q)
		}
		return tx.Create(ctx, core.NodeRef(s.Ref), s.Content, props, aspects...)
	},
	"write": func(ctx context.Context, tx *fs.Transaction, _ core.NamespaceResolver, s Step) error {
		return tx.WriteContent(ctx, core.NodeRef(s.Ref), s.Content)
	},
	"set": func(ctx context.Context, tx *fs.Transaction, ns core.NamespaceResolver, s Step) error {
		props, err := properties(s.Properties, ns)
		if err != nil {
			return err
		}
		return tx.SetProperties(ctx, core.NodeRef(s.Ref), props)
	},
	"add-aspect": func(ctx context.Context, tx *fs.Transaction, ns core.NamespaceResolver, s Step) error {
		aspect, err := core.ParseQName(s.Aspect, ns)
		if err != nil {
			return err
		}
		props, err := properties(s.Properties, ns)
		if err != nil {
			return err
		}
		return tx.AddAspect(ctx, core.NodeRef(s.Ref), aspect, props)
	},
	"remove-aspect": func(ctx context.Context, tx *fs.Transaction, ns core.NamespaceResolver, s Step) error {
		aspect, err := core.ParseQName(s.Aspect, ns)
		if err != nil {
			return err
		}
		return tx.RemoveAspect(ctx, core.NodeRef(s.Ref), aspect)
	},
	"associate":    link((*fs.Transaction).Associate),
	"dissociate":   link((*fs.Transaction).Dissociate),
	"add-child":    link((*fs.Transaction).AddChild),
	"remove-child": link((*fs.Transaction).RemoveChild),
	"delete": func(ctx context.Context, tx *fs.Transaction, _ core.NamespaceResolver, s Step) error {
		return tx.Delete(ctx, core.NodeRef(s.Ref), s.Archive)
	},
	"copy": func(ctx context.Context, tx *fs.Transaction, _ core.NamespaceResolver, s Step) error {
		return tx.Copy(ctx, core.NodeRef(s.Ref), core.NodeRef(s.Target))
	},
	"lock": func(ctx context.Context, tx *fs.Transaction, _ core.NamespaceResolver, s Step) error {
		if s.Lock == "" {
			return tx.Lock(ctx, core.NodeRef(s.Ref), nil)
		}
		if s.Lock != fs.LockWrite && s.Lock != fs.LockReadOnly {
			return fmt.Errorf("unknown lock type %q", s.Lock)
		}
		return tx.Lock(ctx, core.NodeRef(s.Ref), &fs.Lock{Type: s.Lock, Owner: s.Owner})
	},
}

func link(fn func(*fs.Transaction, context.Context, core.NodeRef, core.NodeRef, core.QName) error) operation {
	return func(ctx context.Context, tx *fs.Transaction, ns core.NamespaceResolver, s Step) error {
		assocType, err := core.ParseQName(s.Type, ns)
		if err != nil {
			return err
		}
		return fn(tx, ctx, core.NodeRef(s.Ref), core.NodeRef(s.Target), assocType)
	}
}

func properties(raw map[string]any, ns core.NamespaceResolver) (core.Properties, error) {
	props := make(core.Properties, len(raw))
	for name, v := range raw {
		q, err := core.ParseQName(name, ns)
		if err != nil {
			return nil, err
		}
		props[q] = v
	}
	return props, nil
}

func apply(ctx context.Context, tx *fs.Transaction, ns core.NamespaceResolver, s Step) error {
	return operations[s.Op](ctx, tx, ns, s)
}
