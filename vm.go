// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package genomevm implements a creature-collectible chain whose genes
// are drawn from a verified drand-style randomness beacon.
package genomevm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/pubsub"
	"github.com/luxfi/version"

	"github.com/luxfi/genomevm/api"
	"github.com/luxfi/genomevm/beacon"
	"github.com/luxfi/genomevm/genesis"
	"github.com/luxfi/genomevm/metrics"
	"github.com/luxfi/genomevm/splicer"
	"github.com/luxfi/genomevm/state"
	"github.com/luxfi/genomevm/utils/json"
	"github.com/luxfi/genomevm/utils/timer/mockable"
)

// VM wires the beacon verifier, state and splicer engine together and
// serves them over JSON-RPC.
type VM struct {
	log        log.Logger
	db         database.Database
	genesis    *genesis.Genesis
	clock      mockable.Clock
	registerer metric.Registry

	metrics  metrics.Metrics
	state    *state.State
	verifier *beacon.Verifier
	rounds   *beacon.RoundClock
	engine   *splicer.Engine
	pubsub   *pubsub.Server
}

// Initialize sets up the VM from genesis bytes. Genesis allocations
// and the optional chain anchor are applied only the first time a
// database is seen.
func (vm *VM) Initialize(
	_ context.Context,
	db database.Database,
	genesisBytes []byte,
	logger log.Logger,
) error {
	vm.log = logger
	vm.db = db

	gen, err := genesis.Parse(genesisBytes)
	if err != nil {
		return err
	}
	vm.genesis = gen

	vm.registerer = metric.NewRegistry()
	vm.metrics, err = metrics.New(vm.registerer)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	vm.state = state.New(db)
	if err := vm.state.Initialize(); err != nil {
		return err
	}

	if err := vm.applyGenesisState(); err != nil {
		return err
	}

	pk, err := gen.PublicKeyBytes()
	if err != nil {
		return err
	}
	vm.verifier, err = beacon.NewVerifier(beacon.NewCurveOps(), vm.state, pk, gen.DevMode, vm.log)
	if err != nil {
		return err
	}

	vm.rounds = beacon.NewRoundClock(&vm.clock, gen.BeaconGenesisTime, gen.BeaconPeriod)
	vm.pubsub = pubsub.New(vm.log)

	vm.engine = splicer.New(
		vm.state,
		vm.rounds,
		&vm.clock,
		vm.pubsub,
		vm.metrics,
		vm.log,
		gen.SkinCount,
		gen.FeeAmount,
	)

	vm.log.Info("initialized genome VM",
		log.Bool("devMode", gen.DevMode),
		log.Uint64("beaconGenesis", gen.BeaconGenesisTime),
		log.Uint64("beaconPeriod", gen.BeaconPeriod),
	)
	return nil
}

// applyGenesisState credits allocations and seeds the chain anchor on
// first boot.
func (vm *VM) applyGenesisState() error {
	initialized, err := vm.state.IsInitialized()
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}

	for _, alloc := range vm.genesis.Allocations {
		owner, err := ids.ShortFromString(alloc.Address)
		if err != nil {
			return err
		}
		if err := vm.state.Credit(owner, alloc.Balance); err != nil {
			return err
		}
	}

	if vm.genesis.HasAnchor() {
		randomness, err := vm.genesis.AnchorRandomnessBytes()
		if err != nil {
			return err
		}
		signature, err := vm.genesis.AnchorSignatureBytes()
		if err != nil {
			return err
		}
		if err := vm.state.PutEntropyRecord(vm.genesis.AnchorRound, randomness, signature); err != nil {
			return err
		}
		vm.log.Info("seeded beacon anchor",
			log.Uint64("round", vm.genesis.AnchorRound),
		)
	}

	return vm.state.SetInitialized()
}

// CreateHandlers returns the HTTP handlers the node mounts for this
// chain: the JSON-RPC service at the root and the websocket event feed
// at /events.
func (vm *VM) CreateHandlers(context.Context) (map[string]http.Handler, error) {
	codec := json.NewCodec()

	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(codec, "application/json")
	rpcServer.RegisterCodec(codec, "application/json;charset=UTF-8")
	rpcServer.RegisterInterceptFunc(vm.metrics.InterceptRequest)
	rpcServer.RegisterAfterFunc(vm.metrics.AfterRequest)

	service := api.NewService(
		vm.log,
		vm.genesis,
		vm.verifier,
		vm.engine,
		vm.state,
		vm.rounds,
		vm.metrics,
	)
	if err := rpcServer.RegisterService(service, "genome"); err != nil {
		return nil, err
	}

	return map[string]http.Handler{
		"":        rpcServer,
		"/events": vm.pubsub,
	}, nil
}

// Registry exposes the metric registry for the node's gatherer.
func (vm *VM) Registry() metric.Registry {
	return vm.registerer
}

// Shutdown releases the VM's resources.
func (vm *VM) Shutdown(context.Context) error {
	if vm.state == nil {
		return nil
	}
	return vm.state.Close()
}

func (*VM) Version(context.Context) (string, error) {
	return version.Current.String(), nil
}
