package ledger

// Operation names reported through OperationLog.
const (
	OperationBalance  = "balance"
	OperationCheck    = "check"
	OperationAdd      = "add"
	OperationAdminAdd = "admin_add"
	OperationDeduct   = "deduct"
	OperationReset    = "reset"
)

const (
	operationStatusOK    = "ok"
	operationStatusError = "error"

	secondsPerCredit = 10
	minimumCost      = 1

	defaultAddDescription    = "credits added"
	defaultDeductDescription = "credits deducted"
	defaultResetDescription  = "balance reset"
)
