package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/settlab/sett/internal/hypervisor"
	"github.com/settlab/sett/internal/repository"
	"github.com/settlab/sett/internal/topology"
)

// errConsoleNotReady distinguishes a guest that has not reached its prompt
// yet from a probe that genuinely failed.
var errConsoleNotReady = errors.New("console not ready")

// Status reports how far the named sandbox has come up. Gates are checked in
// order and the first closed gate ends the walk, so an expensive probe never
// runs for a sandbox that is not even deployed. Every call inspects the live
// hypervisor; nothing is cached between polls.
func (o *Orchestrator) Status(ctx context.Context, name string) (res StatusResult) {
	res = StatusResult{
		Overall:    GateNotReady,
		Deploy:     GateNotReady,
		Boot:       GateNotReady,
		Console:    GateNotReady,
		Configured: GateNotReady,
		Message:    "no message",
		TopologyID: "0",
	}

	topo, err := o.topologies.FindByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		res.Message = fmt.Sprintf("topology with name %q does not exist", name)
		return res
	}
	if err != nil {
		res.Message = fmt.Sprintf("failed to load topology %q: %v", name, err)
		return res
	}
	res.TopologyID = strconv.FormatInt(topo.ID, 10)

	// A panic below must not cost the caller the gates already decided; the
	// partial pipeline is still an answer.
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"topology": name,
				"panic":    r,
			}).Error("status probe panicked")
			res.Overall = GateNotReady
			res.Message = fmt.Sprintf("error while checking sandbox status: %v", r)
		}
	}()

	id := hypervisor.TopologyID(topo.ID)
	domains, err := o.driver.ListDomains(ctx, id)
	if err != nil {
		res.Message = fmt.Sprintf("error while checking sandbox status: %v", err)
		return res
	}

	if len(domains) == 0 {
		res.Message = "not yet deployed"
		return res
	}
	res.Deploy = GateReady

	for _, dom := range domains {
		if dom.State != hypervisor.StateRunning {
			res.Message = "not all instances are started"
			return res
		}
	}
	res.Boot = GateReady

	doc, err := topology.Parse(topo.Document)
	if err != nil {
		res.Message = fmt.Sprintf("error while checking sandbox status: %v", err)
		return res
	}

	if err := o.probeConsoles(ctx, id, doc); err != nil {
		if errors.Is(err, errConsoleNotReady) {
			res.Message = "not all instances have a console ready"
			return res
		}
		res.Message = fmt.Sprintf("error while checking sandbox status: %v", err)
		return res
	}
	res.Console = GateReady

	// Every managed node, children included, must answer on its management
	// address before the sandbox counts as configured.
	for _, node := range doc.Nodes() {
		if !o.network.CheckAddress(ctx, node.Address()) {
			res.Message = "not all instances have a management IP"
			return res
		}
	}
	res.Configured = GateReady

	res.Overall = GateReady
	res.Message = "Sandbox is fully booted and available"
	return res
}

// probeConsoles checks the console of every probeable node concurrently.
// Consoles are independent serial devices, so probing them one by one would
// make the status poll scale with sandbox size.
func (o *Orchestrator) probeConsoles(ctx context.Context, id hypervisor.TopologyID, doc *topology.Document) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range doc.Nodes() {
		if !node.DeviceType().ProbesReady() {
			continue
		}
		domainName := id.DomainName(node.Label())
		g.Go(func() error {
			ready, err := o.console.IsReady(gctx, domainName)
			if err != nil {
				return fmt.Errorf("failed to probe console of %s: %w", domainName, err)
			}
			if !ready {
				return errConsoleNotReady
			}
			return nil
		})
	}
	return g.Wait()
}
