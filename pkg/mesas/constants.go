package mesas

const (
	operationList   = "list"
	operationCreate = "create"
	operationJoin   = "join"
	operationLeave  = "leave"
	operationDelete = "delete"
	operationSweep  = "sweep"

	operationStatusOK    = "ok"
	operationStatusNoop  = "noop"
	operationStatusError = "error"

	creatorSeat SeatIndex = 0

	generatedTableIDAttempts = 3
	tableIDAlphabet          = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)
