package wapchost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

// Pool is a ring-buffer-backed pool of WapcHosts, each running its own copy
// of the same compiled bytes. Grounded on the teacher's pool.go, adapted from
// pooling bare Instances detached from a shared Module to pooling whole
// *WapcHost values: in this design a host's compiled module and live instance
// are not separable the way the teacher's Module/Instance split allows --
// ReplaceModule mutates a host in place, so each pooled element must be a
// full host.
type Pool struct {
	rb    *queue.RingBuffer
	hosts []*WapcHost
}

// HostInitialize runs once against each freshly constructed host before it
// is added to the pool, e.g. to warm up guest-side state.
type HostInitialize func(host *WapcHost) error

// NewPool constructs size WapcHosts from the same compiled bytes and returns
// a pool over them.
func NewPool(ctx context.Context, engine Engine, code []byte, hostCallback HostCallHandler, size uint64, opts ...Option) (*Pool, error) {
	return NewPoolWithInitializer(ctx, engine, code, hostCallback, size, nil, opts...)
}

// NewPoolWithInitializer is NewPool plus an optional HostInitialize run on
// each host before it enters the pool.
func NewPoolWithInitializer(ctx context.Context, engine Engine, code []byte, hostCallback HostCallHandler, size uint64, initialize HostInitialize, opts ...Option) (*Pool, error) {
	rb := queue.NewRingBuffer(size)
	hosts := make([]*WapcHost, 0, size)

	closeBuilt := func() {
		for _, h := range hosts {
			_ = h.Close(ctx)
		}
	}

	for i := uint64(0); i < size; i++ {
		host, err := New(ctx, engine, code, hostCallback, opts...)
		if err != nil {
			closeBuilt()
			return nil, err
		}

		if initialize != nil {
			if err := initialize(host); err != nil {
				_ = host.Close(ctx)
				closeBuilt()
				return nil, fmt.Errorf("could not initialize host: %w", err)
			}
		}

		ok, err := rb.Offer(host)
		if err != nil {
			_ = host.Close(ctx)
			closeBuilt()
			return nil, err
		}
		if !ok {
			_ = host.Close(ctx)
			closeBuilt()
			return nil, fmt.Errorf("could not add host %d to pool of size %d", i, size)
		}

		hosts = append(hosts, host)
	}

	return &Pool{rb: rb, hosts: hosts}, nil
}

// Get returns a host from the pool if one becomes available within timeout.
func (p *Pool) Get(timeout time.Duration) (*WapcHost, error) {
	hostIface, err := p.rb.Poll(timeout)
	if err != nil {
		return nil, fmt.Errorf("get from pool timed out: %w", err)
	}

	host, ok := hostIface.(*WapcHost)
	if !ok {
		return nil, errors.New("item retrieved from pool is not a *WapcHost")
	}

	return host, nil
}

// Return adds a host back to the pool.
func (p *Pool) Return(host *WapcHost) error {
	ok, err := p.rb.Offer(host)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("cannot return host to full pool")
	}
	return nil
}

// Close closes every host contained in the pool.
func (p *Pool) Close(ctx context.Context) {
	p.rb.Dispose()

	for _, host := range p.hosts {
		_ = host.Close(ctx)
	}
}
