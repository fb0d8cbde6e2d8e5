package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a credit operation and its outcome.
type OperationLog struct {
	Operation      string
	Identity       Identity
	Amount         Credits
	BalanceBefore  Credits
	BalanceAfter   Credits
	Description    string
	CreatedUnixUTC int64
	Status         string
	Error          error
}

// Mutating reports whether the operation changes a balance.
func (entry OperationLog) Mutating() bool {
	switch entry.Operation {
	case OperationAdd, OperationAdminAdd, OperationDeduct, OperationReset:
		return true
	default:
		return false
	}
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithInitialGrant sets the balance given to identities seen for the first time.
func WithInitialGrant(grant Credits) ServiceOption {
	return func(service *Service) {
		service.initialGrant = grant
	}
}

// WithHistoryCap bounds the retained history per identity.
func WithHistoryCap(historyCap int) ServiceOption {
	return func(service *Service) {
		service.historyCap = historyCap
	}
}

type operationLoggers []OperationLogger

func (loggers operationLoggers) LogOperation(ctx context.Context, entry OperationLog) {
	for _, logger := range loggers {
		logger.LogOperation(ctx, entry)
	}
}

// CombineOperationLoggers fans one operation out to several loggers, skipping nil ones.
func CombineOperationLoggers(loggers ...OperationLogger) OperationLogger {
	combined := make(operationLoggers, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			combined = append(combined, logger)
		}
	}
	return combined
}
