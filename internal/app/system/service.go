package system

import "context"

// Service represents a lifecycle-managed component. Background workers such as
// the treasury reporter implement it so the Manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService satisfies Service without doing any work. It is used for
// components that are configured off.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string { return n.ServiceName }

func (n NoopService) Start(context.Context) error { return nil }

func (n NoopService) Stop(context.Context) error { return nil }
