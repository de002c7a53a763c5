// Package evalreg keeps the small set of interpreter dispatch-loop entry
// addresses. A native return address that resolves to one of them marks the
// point where interpreter frames are spliced into a traceback.
package evalreg

import (
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/vmprof/pkg/metrics"
)

// Capacity is the maximum number of eval functions a registry holds.
const Capacity = 5

var (
	ErrCapacityExceeded = errors.New("eval function registry is full")
	ErrSymbolNotFound   = errors.New("eval function symbol not found")
)

// Resolver maps a function name to its code address.
type Resolver interface {
	Lookup(name string) (uint64, error)
}

// Registry is written before sampling starts and only read afterwards,
// so IsEvalAddress needs no synchronization.
type Registry struct {
	logger   log.Logger
	resolver Resolver
	metrics  *metrics.RegistryMetrics

	addrs [Capacity]uint64
	n     int
}

func New(logger log.Logger, resolver Resolver, m *metrics.RegistryMetrics) *Registry {
	if m == nil {
		m = metrics.NewRegistryMetrics(nil)
	}
	return &Registry{
		logger:   log.With(logger, "component", "evalreg"),
		resolver: resolver,
		metrics:  m,
	}
}

// Register resolves name and adds its address. An empty name resets the registry.
func (r *Registry) Register(name string) error {
	if name == "" {
		r.Reset()
		return nil
	}
	if r.n >= Capacity {
		r.metrics.RegistrationErrors.WithLabelValues("capacity").Inc()
		_ = level.Warn(r.logger).Log("msg", "cannot register more eval functions", "name", name, "capacity", Capacity)
		return fmt.Errorf("register %s: %w", name, ErrCapacityExceeded)
	}
	if r.resolver == nil {
		r.metrics.RegistrationErrors.WithLabelValues("symbol").Inc()
		_ = level.Warn(r.logger).Log("msg", "no symbol resolver configured", "name", name)
		return fmt.Errorf("register %s: %w", name, ErrSymbolNotFound)
	}
	addr, err := r.resolver.Lookup(name)
	if err != nil || addr == 0 {
		r.metrics.RegistrationErrors.WithLabelValues("symbol").Inc()
		_ = level.Warn(r.logger).Log("msg", "could not lookup eval function address", "name", name, "err", err)
		return fmt.Errorf("register %s: %w", name, ErrSymbolNotFound)
	}
	r.add(addr)
	_ = level.Debug(r.logger).Log("msg", "eval function registered", "name", name, "addr", fmt.Sprintf("0x%x", addr))
	return nil
}

// RegisterAddress adds an already resolved address.
func (r *Registry) RegisterAddress(addr uint64) error {
	if r.n >= Capacity {
		r.metrics.RegistrationErrors.WithLabelValues("capacity").Inc()
		_ = level.Warn(r.logger).Log("msg", "cannot register more eval functions", "addr", fmt.Sprintf("0x%x", addr), "capacity", Capacity)
		return fmt.Errorf("register 0x%x: %w", addr, ErrCapacityExceeded)
	}
	r.add(addr)
	return nil
}

func (r *Registry) add(addr uint64) {
	r.addrs[r.n] = addr
	r.n++
	r.metrics.Registered.Set(float64(r.n))
}

func (r *Registry) Reset() {
	r.addrs = [Capacity]uint64{}
	r.n = 0
	r.metrics.Registered.Set(0)
}

// IsEvalAddress is called from the sampler: no locks, no allocation.
func (r *Registry) IsEvalAddress(addr uint64) bool {
	for i := 0; i < r.n; i++ {
		if r.addrs[i] == addr {
			return true
		}
	}
	return false
}

func (r *Registry) Len() int {
	return r.n
}

func (r *Registry) Addresses() []uint64 {
	res := make([]uint64, r.n)
	copy(res, r.addrs[:r.n])
	return res
}
