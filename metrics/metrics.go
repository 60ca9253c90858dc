// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"

	"github.com/luxfi/metric"
)

var _ Metrics = (*metricsImpl)(nil)

type Metrics interface {
	metric.APIInterceptor

	IncEntropyAccepted()
	IncEntropyRejected()
	IncCartridgesMinted()
	IncCreaturesFinalized()
	IncFinalizeDeferred()
}

type metricsImpl struct {
	numEntropyAccepted,
	numEntropyRejected,
	numCartridgesMinted,
	numCreaturesFinalized,
	numFinalizeDeferred metric.Counter

	metric.APIInterceptor
}

func (m *metricsImpl) IncEntropyAccepted() {
	m.numEntropyAccepted.Inc()
}

func (m *metricsImpl) IncEntropyRejected() {
	m.numEntropyRejected.Inc()
}

func (m *metricsImpl) IncCartridgesMinted() {
	m.numCartridgesMinted.Inc()
}

func (m *metricsImpl) IncCreaturesFinalized() {
	m.numCreaturesFinalized.Inc()
}

func (m *metricsImpl) IncFinalizeDeferred() {
	m.numFinalizeDeferred.Inc()
}

func New(registerer metric.Registerer) (Metrics, error) {
	registry, ok := registerer.(metric.Registry)
	if !ok {
		return nil, errors.New("registerer must implement metric.Registry")
	}

	m := &metricsImpl{}

	m.numEntropyAccepted = metric.NewCounter(metric.CounterOpts{
		Name: "entropy_accepted",
		Help: "Number of beacon rounds that passed verification and were stored",
	})
	m.numEntropyRejected = metric.NewCounter(metric.CounterOpts{
		Name: "entropy_rejected",
		Help: "Number of beacon submissions rejected by verification",
	})
	m.numCartridgesMinted = metric.NewCounter(metric.CounterOpts{
		Name: "cartridges_minted",
		Help: "Number of pending cartridges minted",
	})
	m.numCreaturesFinalized = metric.NewCounter(metric.CounterOpts{
		Name: "creatures_finalized",
		Help: "Number of cartridges finalized into creatures",
	})
	m.numFinalizeDeferred = metric.NewCounter(metric.CounterOpts{
		Name: "finalize_deferred",
		Help: "Number of finalize attempts deferred for lack of entropy",
	})

	apiRequestMetric, err := metric.NewAPIInterceptor(registry)
	m.APIInterceptor = apiRequestMetric
	return m, err
}
