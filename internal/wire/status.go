package wire

import "google.golang.org/grpc/codes"

// terminalCodes are the remote status codes after which reconnecting cannot
// help: the request or the caller is wrong, not the transport.
var terminalCodes = map[codes.Code]struct{}{
	codes.InvalidArgument:    {},
	codes.NotFound:           {},
	codes.AlreadyExists:      {},
	codes.PermissionDenied:   {},
	codes.FailedPrecondition: {},
	codes.OutOfRange:         {},
	codes.Unimplemented:      {},
	codes.DataLoss:           {},
	codes.Unauthenticated:    {},
}

// IsTerminalCode reports whether a remote status code stops reconnection.
// Every other code, including unknown ones, is retriable.
func IsTerminalCode(code codes.Code) bool {
	_, ok := terminalCodes[code]
	return ok
}
