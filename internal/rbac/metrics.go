package rbac

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsMu          sync.Mutex
	metricsInitialized bool

	checkCounter    *prometheus.CounterVec
	cacheOpCounter  *prometheus.CounterVec
	metricsSetupErr error
)

// SetupMetrics registers the permission check and cache counters. The
// registration happens once; subsequent calls are ignored.
func SetupMetrics(reg prometheus.Registerer) error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if metricsInitialized {
		return metricsSetupErr
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	checkCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hshs_rbac_checks_total",
		Help: "Permission checks by result: granted, denied or error.",
	}, []string{"result"})
	cacheOpCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hshs_rbac_cache_total",
		Help: "Permission cache operations: hit, miss and invalidate.",
	}, []string{"op"})

	for _, collector := range []*prometheus.CounterVec{checkCounter, cacheOpCounter} {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
				if !ok {
					metricsSetupErr = fmt.Errorf("rbac metrics: unexpected collector type %T", already.ExistingCollector)
					continue
				}
				if collector == checkCounter {
					checkCounter = existing
				} else {
					cacheOpCounter = existing
				}
				continue
			}
			metricsSetupErr = err
			checkCounter = nil
			cacheOpCounter = nil
			metricsInitialized = true
			return metricsSetupErr
		}
	}

	metricsInitialized = true
	return metricsSetupErr
}

func recordCheck(result string) {
	if checkCounter == nil {
		return
	}
	checkCounter.WithLabelValues(result).Inc()
}

func recordCacheOp(op string) {
	if cacheOpCounter == nil {
		return
	}
	cacheOpCounter.WithLabelValues(op).Inc()
}
