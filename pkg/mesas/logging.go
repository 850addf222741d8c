package mesas

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a registry operation and its outcome.
type OperationLog struct {
	Operation string
	PlayerID  PlayerID
	TableID   TableID
	SeatIndex *SeatIndex
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithTableIDGenerator replaces the random table id source.
func WithTableIDGenerator(generator func() (TableID, error)) ServiceOption {
	return func(service *Service) {
		if generator != nil {
			service.generateTableID = generator
		}
	}
}
