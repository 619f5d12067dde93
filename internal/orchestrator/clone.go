package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/armon/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/settlab/sett/internal/allocator"
	"github.com/settlab/sett/internal/domain"
	"github.com/settlab/sett/internal/repository"
	"github.com/settlab/sett/internal/topology"
)

// ScriptBinding names a configuration script and its parameter, stamped onto
// every managed node of a clone.
type ScriptBinding struct {
	ID    string
	Param string
}

// Clone copies source under newName, drawing a fresh management address for
// every top-level managed node so the clone can run alongside its source.
// Child nodes inherit addressing from their parent and are not rewritten.
// The clone's description records its provenance.
func (o *Orchestrator) Clone(ctx context.Context, source domain.Topology, newName string, binding *ScriptBinding) (domain.Topology, error) {
	doc, err := topology.Parse(source.Document)
	if err != nil {
		return domain.Topology{}, fmt.Errorf("failed to parse topology %q: %w", source.Name, err)
	}

	cloned, err := o.cloneDocument(ctx, doc, binding)
	if err != nil {
		return domain.Topology{}, err
	}

	raw, err := cloned.Marshal()
	if err != nil {
		return domain.Topology{}, err
	}

	scriptID, scriptParam := topology.NoScriptID, ""
	if binding != nil {
		scriptID, scriptParam = binding.ID, binding.Param
	}

	saved, err := o.topologies.Save(ctx, domain.Topology{
		Name:        newName,
		Description: fmt.Sprintf("Clone from: %d\nScript Id: %s\nScript Param: %s", source.ID, scriptID, scriptParam),
		Document:    raw,
	})
	if err != nil {
		return domain.Topology{}, fmt.Errorf("failed to save clone %q: %w", newName, err)
	}

	logrus.WithFields(logrus.Fields{
		"source": source.Name,
		"clone":  saved.Name,
		"id":     saved.ID,
	}).Info("cloned topology")
	metrics.IncrCounter([]string{"clone"}, 1)
	return saved, nil
}

// Import stores a raw topology document under the name its metadata entry
// declares. Imported nodes are re-addressed exactly like clones, so an
// exported document can be imported into a system where its original
// addresses are already taken.
func (o *Orchestrator) Import(ctx context.Context, raw string) Result {
	doc, err := topology.Parse(raw)
	if err != nil {
		return failed("invalid topology document: %v", err)
	}

	name, description, ok := doc.Info()
	if !ok || name == "" {
		return failed("topology document declares no name")
	}

	cloned, err := o.cloneDocument(ctx, doc, nil)
	if err != nil {
		return failed("failed to import topology %q: %v", name, err)
	}

	out, err := cloned.Marshal()
	if err != nil {
		return failed("failed to import topology %q: %v", name, err)
	}

	saved, err := o.topologies.Save(ctx, domain.Topology{
		Name:        name,
		Description: description,
		Document:    out,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return Result{Status: StatusAlreadyExists, Message: fmt.Sprintf("topology %q already exists", name)}
	}
	if err != nil {
		return failed("failed to save imported topology %q: %v", name, err)
	}

	logrus.WithFields(logrus.Fields{
		"topology": saved.Name,
		"id":       saved.ID,
	}).Info("imported topology")
	metrics.IncrCounter([]string{"import"}, 1)
	return Result{
		Status:     StatusImported,
		Message:    fmt.Sprintf("topology imported with id: %d", saved.ID),
		TopologyID: saved.ID,
	}
}

// cloneDocument deep-copies doc, reserves a fresh host octet for every
// top-level managed node, and stamps binding onto every managed node. The
// reservation covers all nodes at once so a document is never saved with a
// partially rewritten address plan.
func (o *Orchestrator) cloneDocument(ctx context.Context, doc *topology.Document, binding *ScriptBinding) (*topology.Document, error) {
	cloned, err := doc.Clone()
	if err != nil {
		return nil, err
	}

	var rewrite []*topology.Node
	for _, node := range cloned.Nodes() {
		if !node.IsChild() {
			rewrite = append(rewrite, node)
		}
	}

	octets, err := o.alloc.Reserve(ctx, len(rewrite))
	if err != nil {
		if errors.Is(err, allocator.ErrPoolExhausted) {
			metrics.IncrCounter([]string{"allocate", "exhausted"}, 1)
		}
		return nil, fmt.Errorf("failed to allocate management addresses: %w", err)
	}

	for i, node := range rewrite {
		if err := node.RewriteHostOctet(octets[i]); err != nil {
			return nil, err
		}
	}

	if binding != nil {
		for _, node := range cloned.Nodes() {
			node.SetScriptBinding(binding.ID, binding.Param)
		}
	}

	return cloned, nil
}
