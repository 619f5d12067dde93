package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/armon/go-metrics"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/settlab/sett/internal/hypervisor"
	"github.com/settlab/sett/internal/repository"
)

// Teardown removes every hypervisor object belonging to the named topology,
// reclaims the disks and address reservations they held, and finally deletes
// the stored definition. The sweep is best-effort: an object that refuses to
// go away is counted and logged, never a reason to leave the rest behind.
// Tearing down a topology that does not exist reports deleted.
func (o *Orchestrator) Teardown(ctx context.Context, name string) Result {
	topo, err := o.topologies.FindByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return Result{Status: StatusDeleted, Message: fmt.Sprintf("topology with name %q does not exist", name)}
	}
	if err != nil {
		return failed("failed to load topology %q: %v", name, err)
	}

	id := hypervisor.TopologyID(topo.ID)
	log := logrus.WithFields(logrus.Fields{
		"topology": topo.Name,
		"id":       topo.ID,
	})

	var failures int
	var reclaimed int64
	released := false

	networks, err := o.driver.ListNetworks(ctx, id)
	if err != nil {
		failures++
		log.WithField("error", err).Error("failed to list networks for teardown")
	}
	for _, network := range networks {
		if err := o.driver.UndefineNetwork(ctx, network.Name); err != nil {
			failures++
			log.WithFields(logrus.Fields{
				"network": network.Name,
				"error":   err,
			}).Warn("failed to undefine network")
		}
	}

	domains, err := o.driver.ListDomains(ctx, id)
	if err != nil {
		failures++
		log.WithField("error", err).Error("failed to list domains for teardown")
	}
	for _, dom := range domains {
		// The disk path and management MAC must be read before the domain is
		// undefined; afterwards nothing remembers them.
		imagePath, err := o.driver.ImagePathFor(ctx, dom.UUID)
		if err != nil {
			log.WithFields(logrus.Fields{
				"domain": dom.Name,
				"error":  err,
			}).Warn("failed to resolve instance disk")
		}
		mac, err := o.driver.MACFor(ctx, dom.Name)
		if err != nil {
			log.WithFields(logrus.Fields{
				"domain": dom.Name,
				"error":  err,
			}).Warn("failed to resolve management MAC")
		}

		removed, err := o.driver.UndefineDomain(ctx, dom.UUID)
		if err != nil {
			failures++
			log.WithFields(logrus.Fields{
				"domain": dom.Name,
				"error":  err,
			}).Warn("failed to undefine domain")
		}

		if removed && imagePath != "" {
			bytes, err := o.images.Remove(ctx, imagePath)
			if err != nil {
				failures++
				log.WithFields(logrus.Fields{
					"path":  imagePath,
					"error": err,
				}).Warn("failed to remove instance disk")
			} else {
				reclaimed += bytes
			}
		}

		if mac != "" {
			ok, err := o.network.ReleaseReservation(mac)
			if err != nil {
				failures++
				log.WithFields(logrus.Fields{
					"mac":   mac,
					"error": err,
				}).Warn("failed to release address reservation")
			} else if ok {
				released = true
			}
		}
	}

	// One reload covers every reservation released above
	if released {
		if err := o.network.ReloadDHCP(ctx); err != nil {
			failures++
			log.WithField("error", err).Warn("failed to reload dhcp reservations")
		}
	}

	if err := o.topologies.DeleteByID(ctx, topo.ID); err != nil {
		return failed("failed to delete topology %q: %v", name, err)
	}
	log.Info("deleted topology")
	metrics.IncrCounter([]string{"teardown"}, 1)

	msg := "topology deleted"
	if reclaimed > 0 {
		msg = fmt.Sprintf("topology deleted, reclaimed %s of instance storage", units.HumanSize(float64(reclaimed)))
	}
	if failures > 0 {
		return Result{
			Status:     StatusPartialFailure,
			Message:    fmt.Sprintf("%s, %d objects could not be cleaned up", msg, failures),
			TopologyID: topo.ID,
		}
	}
	return Result{Status: StatusDeleted, Message: msg, TopologyID: topo.ID}
}
