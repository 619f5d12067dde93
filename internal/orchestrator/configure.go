package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/armon/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/settlab/sett/internal/hypervisor"
	"github.com/settlab/sett/internal/repository"
	"github.com/settlab/sett/internal/topology"
)

// Configure pushes first-boot configuration into every managed node of a
// running sandbox. Nodes are configured in document order and the first node
// that fails aborts the pass, since later nodes often depend on earlier ones
// being reachable.
//
// A non-empty scriptID overrides the binding stamped on the nodes; both the
// id and parameter are replaced together.
func (o *Orchestrator) Configure(ctx context.Context, name, scriptID, scriptParam string) Result {
	topo, err := o.topologies.FindByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return failed("topology with name %q does not exist", name)
	}
	if err != nil {
		return failed("failed to load topology %q: %v", name, err)
	}

	id := hypervisor.TopologyID(topo.ID)
	domains, err := o.driver.ListDomains(ctx, id)
	if err != nil {
		return failed("failed to inspect hypervisor for topology %q: %v", topo.Name, err)
	}
	if !allRunning(domains) {
		return failed("not all domains are running")
	}

	doc, err := topology.Parse(topo.Document)
	if err != nil {
		return failed("failed to parse topology %q: %v", topo.Name, err)
	}

	for _, node := range doc.Nodes() {
		if err := o.configureNode(ctx, id, node, scriptID, scriptParam); err != nil {
			return failed("could not configure node %q: %v", node.Label(), err)
		}
	}

	metrics.IncrCounter([]string{"configure"}, 1)
	return Result{
		Status:     StatusConfigured,
		Message:    "All sandbox nodes configured",
		TopologyID: topo.ID,
	}
}

// configureNode runs the device-specific first-boot sequence for one node,
// then its bound configuration script where the device supports one.
func (o *Orchestrator) configureNode(ctx context.Context, id hypervisor.TopologyID, node *topology.Node, scriptID, scriptParam string) error {
	domainName := id.DomainName(node.Label())
	log := logrus.WithFields(logrus.Fields{
		"node":   node.Label(),
		"domain": domainName,
	})

	switch node.DeviceType() {
	case topology.DeviceLinux:
		if err := o.console.PreconfigLinux(ctx, domainName, node.Label(), node.Password(), node.Address(), node.MgmtInterface()); err != nil {
			return err
		}
		log.Debug("preconfigured linux node")

		sid, param := node.ScriptID(), node.ScriptParam()
		if scriptID != "" {
			sid, param = scriptID, scriptParam
		}
		if sid == topology.NoScriptID {
			return nil
		}
		return o.runScript(ctx, node, sid, param)

	case topology.DeviceJunos:
		if err := o.console.PreconfigJunos(ctx, domainName, node.Password(), node.Address(), node.MgmtInterface()); err != nil {
			return err
		}
		log.Debug("preconfigured junos node")
		return nil

	default:
		log.WithField("type", node.DeclaredType()).Debug("node type has no configuration sequence, skipping")
		return nil
	}
}

// runScript ships the stored script to the node over its management address
// and executes it with the bound parameter.
func (o *Orchestrator) runScript(ctx context.Context, node *topology.Node, scriptID, param string) error {
	sid, err := strconv.ParseInt(scriptID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid script id %q: %w", scriptID, err)
	}

	script, err := o.scripts.FindByID(ctx, sid)
	if err != nil {
		return fmt.Errorf("failed to load script %s: %w", scriptID, err)
	}

	if err := o.remote.PushFile(ctx, node.Address(), "root", node.Password(), script.Script, script.Destination); err != nil {
		return err
	}

	output, err := o.remote.RunCommand(ctx, node.Address(), "root", node.Password(), script.Destination+" "+param)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"node":   node.Label(),
		"script": script.Name,
		"output": output,
	}).Debug("ran configuration script")
	return nil
}
