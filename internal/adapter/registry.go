package adapter

import (
	"fmt"

	"go.uber.org/zap"

	"notifyhub/internal/model"
)

// Registry maps channels to their delivery adapters. Built once at
// startup from the fixed channel set; a lookup miss is a configuration
// error.
type Registry struct {
	adapters map[model.Channel]Adapter
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[model.Channel]Adapter, len(adapters)),
		logger:   logger,
	}

	for _, a := range adapters {
		r.adapters[a.Channel()] = a
		logger.Info("Registered delivery adapter",
			zap.String("channel", string(a.Channel())),
		)
	}

	return r
}

// Get returns the adapter for a channel.
func (r *Registry) Get(channel model.Channel) (Adapter, error) {
	a, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("no delivery adapter registered for channel %s", channel)
	}
	return a, nil
}

// Has reports whether an adapter is registered for the channel.
func (r *Registry) Has(channel model.Channel) bool {
	_, ok := r.adapters[channel]
	return ok
}
