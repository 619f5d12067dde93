package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/armon/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/settlab/sett/internal/domain"
	"github.com/settlab/sett/internal/hypervisor"
	"github.com/settlab/sett/internal/repository"
	"github.com/settlab/sett/internal/topology"
)

// Start deploys the named stored topology as it is
func (o *Orchestrator) Start(ctx context.Context, name string) Result {
	topo, err := o.topologies.FindByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return failed("topology with name %q does not exist", name)
	}
	if err != nil {
		return failed("failed to load topology %q: %v", name, err)
	}
	return o.Deploy(ctx, topo)
}

// StartOrClone deploys the named topology, first cloning it from the stored
// topology cloneID when no topology with that name exists yet. The script
// binding is stamped onto the clone for Configure to pick up later.
func (o *Orchestrator) StartOrClone(ctx context.Context, name string, cloneID int64, scriptID, scriptParam string) Result {
	topo, err := o.topologies.FindByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		source, err := o.topologies.FindByID(ctx, cloneID)
		if errors.Is(err, repository.ErrNotFound) {
			return failed("clone source topology %d does not exist", cloneID)
		}
		if err != nil {
			return failed("failed to load clone source %d: %v", cloneID, err)
		}
		topo, err = o.Clone(ctx, source, name, &ScriptBinding{ID: scriptID, Param: scriptParam})
		if err != nil {
			return failed("failed to clone topology: %v", err)
		}
	} else if err != nil {
		return failed("failed to load topology %q: %v", name, err)
	}
	return o.Deploy(ctx, topo)
}

// Deploy makes every hypervisor object of the topology exist and run. The
// operation is resumable: objects that already exist are kept, objects
// already running are left alone, so a deploy that failed partway can be
// retried and picks up where it stopped.
func (o *Orchestrator) Deploy(ctx context.Context, topo domain.Topology) Result {
	id := hypervisor.TopologyID(topo.ID)
	defer o.deployLocks.lock(id).Unlock()
	defer metrics.MeasureSince([]string{"deploy", "time"}, time.Now())

	log := logrus.WithFields(logrus.Fields{
		"topology": topo.Name,
		"id":       topo.ID,
	})

	domains, err := o.driver.ListDomains(ctx, id)
	if err != nil {
		return failed("failed to inspect hypervisor for topology %q: %v", topo.Name, err)
	}

	status := StatusInstantiated
	if len(domains) > 0 {
		log.Debug("topology is already instantiated")
		status = StatusAlreadyInstantiated
	} else {
		if err := o.instantiate(ctx, id, topo); err != nil {
			return failed("failed to instantiate topology %q: %v", topo.Name, err)
		}
		log.Info("instantiated topology")
	}

	networks, err := o.driver.ListNetworks(ctx, id)
	if err != nil {
		return failed("failed to list networks for topology %q: %v", topo.Name, err)
	}
	domains, err = o.driver.ListDomains(ctx, id)
	if err != nil {
		return failed("failed to list domains for topology %q: %v", topo.Name, err)
	}

	// Networks come up before any domain boots; a guest started first would
	// come up with its links missing.
	for _, network := range networks {
		active, err := o.driver.NetworkIsActive(ctx, network.Name)
		if err == nil && active {
			continue
		}
		if err := o.driver.StartNetwork(ctx, network.Name); err != nil {
			return Result{
				Status:     StatusPartialFailure,
				Message:    fmt.Sprintf("failed to start network %s: %v", network.Name, err),
				TopologyID: topo.ID,
			}
		}
		o.waitForNetwork(ctx, network.Name)
	}

	for _, dom := range domains {
		if dom.State == hypervisor.StateRunning {
			continue
		}
		if err := o.driver.StartDomain(ctx, dom.UUID); err != nil {
			return Result{
				Status:     StatusPartialFailure,
				Message:    fmt.Sprintf("failed to start instance %s: %v", dom.Name, err),
				TopologyID: topo.ID,
			}
		}
		o.waitForDomain(ctx, dom.UUID)
	}

	metrics.IncrCounter([]string{"deploy"}, 1)
	msg := "sandbox instantiated, instances are booting"
	if status == StatusAlreadyInstantiated {
		msg = "sandbox was already instantiated, instances are booting"
	}
	return Result{Status: status, Message: msg, TopologyID: topo.ID}
}

// instantiate defines every network and domain of the topology. For each
// domain it also creates the overlay disk the definition boots from and
// reserves the management address for the generated MAC, so the guest comes
// up on the address its document declares.
func (o *Orchestrator) instantiate(ctx context.Context, id hypervisor.TopologyID, topo domain.Topology) error {
	doc, err := topology.Parse(topo.Document)
	if err != nil {
		return err
	}

	defs, err := hypervisor.BuildDefinitions(id, doc, o.defOpts)
	if err != nil {
		return err
	}

	for _, network := range defs.Networks {
		if err := o.driver.DefineNetwork(ctx, network.XML); err != nil {
			return fmt.Errorf("failed to define network %s: %w", network.Name, err)
		}
	}

	for _, dom := range defs.Domains {
		if err := o.images.CreateOverlay(ctx, dom.BackingPath, dom.OverlayPath); err != nil {
			return fmt.Errorf("failed to create disk for %s: %w", dom.Name, err)
		}
		if err := o.driver.DefineDomain(ctx, dom.XML); err != nil {
			return fmt.Errorf("failed to define domain %s: %w", dom.Name, err)
		}
		if err := o.network.ReserveManagementIP(dom.MAC, dom.Address); err != nil {
			return fmt.Errorf("failed to reserve %s for %s: %w", dom.Address, dom.Name, err)
		}
	}

	return nil
}

// waitForNetwork polls until the named network reports active or the pacing
// budget runs out. The budget only paces starts; a slow network is deploy's
// problem to report later, not a reason to fail here.
func (o *Orchestrator) waitForNetwork(ctx context.Context, name string) {
	deadline := time.Now().Add(o.networkStartBudget)
	for {
		active, err := o.driver.NetworkIsActive(ctx, name)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"network": name,
				"error":   err,
			}).Warn("failed to poll network state")
			return
		}
		if active || ctx.Err() != nil || !time.Now().Before(deadline) {
			return
		}
		time.Sleep(o.pollInterval)
	}
}

// waitForDomain polls until the domain reports running or the pacing budget
// runs out.
func (o *Orchestrator) waitForDomain(ctx context.Context, uuid string) {
	deadline := time.Now().Add(o.domainStartBudget)
	for {
		state, err := o.driver.DomainState(ctx, uuid)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"domain": uuid,
				"error":  err,
			}).Warn("failed to poll domain state")
			return
		}
		if state == hypervisor.StateRunning || ctx.Err() != nil || !time.Now().Before(deadline) {
			return
		}
		time.Sleep(o.pollInterval)
	}
}
