package metricclient

import (
	"context"
	"sync"
)

var (
	instanceMu sync.Mutex
	instance   *Client
)

// GetInstance returns the process-wide client, constructing it on the first
// successful call. Once built, later calls return the same client and
// ignore opts. A failed construction is not cached.
func GetInstance(ctx context.Context, opts Options) (*Client, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return instance, nil
	}
	c, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	instance = c
	return instance, nil
}

// Shutdown closes the process-wide client, if any, so the next GetInstance
// builds a fresh one.
func Shutdown() {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		instance.Close()
		instance = nil
	}
}
