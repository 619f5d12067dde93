// Package orchestrator sequences the sandbox lifecycle: cloning topology
// definitions with fresh management addresses, deploying them as hypervisor
// objects, reconciling readiness through the gated status pipeline, pushing
// first-boot configuration, and tearing everything back down.
//
// Lifecycle operations return a Result rather than an error. Failures along
// the way are part of the outcome reported to the caller, not conditions the
// caller is expected to branch on.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/settlab/sett/internal/allocator"
	"github.com/settlab/sett/internal/console"
	"github.com/settlab/sett/internal/hypervisor"
	"github.com/settlab/sett/internal/netutil"
	"github.com/settlab/sett/internal/remote"
	"github.com/settlab/sett/internal/repository"
)

// Status classifies the outcome of a lifecycle operation
type Status string

const (
	StatusInstantiated        Status = "instantiated"
	StatusAlreadyInstantiated Status = "already-instantiated"
	StatusImported            Status = "imported"
	StatusAlreadyExists       Status = "already-exists"
	StatusConfigured          Status = "configured"
	StatusDeleted             Status = "deleted"
	StatusPartialFailure      Status = "partial-failure"
	StatusFailed              Status = "failed"
)

// Result is the outcome of one lifecycle operation
type Result struct {
	Status     Status `json:"status"`
	Message    string `json:"message"`
	TopologyID int64  `json:"topologyId,omitempty"`
}

func failed(format string, args ...any) Result {
	return Result{Status: StatusFailed, Message: fmt.Sprintf(format, args...)}
}

// Gate values reported by StatusResult
const (
	GateReady    = "ready"
	GateNotReady = "not ready"
)

// StatusResult reports sandbox readiness as an ordered series of gates. A
// gate is ready only when every gate before it is; Message explains the
// first gate that is not. The JSON keys are the wire contract the sandbox
// UI polls against.
type StatusResult struct {
	Overall    string `json:"status"`
	Deploy     string `json:"deploy-status"`
	Boot       string `json:"boot-status"`
	Console    string `json:"console-status"`
	Configured string `json:"configured-status"`
	Message    string `json:"message"`
	TopologyID string `json:"topologyId"`
}

// Config carries the collaborators an Orchestrator drives
type Config struct {
	Topologies  repository.TopologyRepository
	Scripts     repository.ScriptRepository
	Allocator   *allocator.Allocator
	Driver      hypervisor.Driver
	Images      hypervisor.ImageStore
	Console     console.Console
	Remote      remote.Executor
	Network     netutil.Manager
	Definitions hypervisor.DefinitionOptions
}

// Orchestrator drives the sandbox lifecycle against one hypervisor
type Orchestrator struct {
	topologies repository.TopologyRepository
	scripts    repository.ScriptRepository
	alloc      *allocator.Allocator
	driver     hypervisor.Driver
	images     hypervisor.ImageStore
	console    console.Console
	remote     remote.Executor
	network    netutil.Manager
	defOpts    hypervisor.DefinitionOptions

	deployLocks keyedMutex

	// start pacing, see waitForNetwork and waitForDomain
	networkStartBudget time.Duration
	domainStartBudget  time.Duration
	pollInterval       time.Duration
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		topologies:         cfg.Topologies,
		scripts:            cfg.Scripts,
		alloc:              cfg.Allocator,
		driver:             cfg.Driver,
		images:             cfg.Images,
		console:            cfg.Console,
		remote:             cfg.Remote,
		network:            cfg.Network,
		defOpts:            cfg.Definitions,
		networkStartBudget: time.Second,
		domainStartBudget:  10 * time.Second,
		pollInterval:       250 * time.Millisecond,
	}
}

// keyedMutex hands out one mutex per topology id. Deploy holds it across its
// exists-check and define calls so two concurrent deploys of the same
// topology cannot both observe an empty hypervisor and define twice.
// Mutexes are never reclaimed; the map is bounded by the set of ids seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[hypervisor.TopologyID]*sync.Mutex
}

func (k *keyedMutex) lock(id hypervisor.TopologyID) *sync.Mutex {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[hypervisor.TopologyID]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m
}

func allRunning(domains []hypervisor.DomainInfo) bool {
	if len(domains) == 0 {
		return false
	}
	for _, d := range domains {
		if d.State != hypervisor.StateRunning {
			return false
		}
	}
	return true
}
