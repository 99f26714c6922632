package errs

// Error codes. 1xxx are generic server errors, 2xxx are request/argument
// errors, 3xxx belong to the sequence subsystem.
const (
	ServerInternalError = 1000
	ArgsError           = 2001
	TokenInvalidError   = 2002

	SeqLockExhaustedError = 3001
	SeqStoreError         = 3002
)

var (
	ErrInternal  = NewCodeError(ServerInternalError, "server internal error")
	ErrArgs      = NewCodeError(ArgsError, "args invalid")
	ErrTokenAuth = NewCodeError(TokenInvalidError, "token invalid or expired")

	// ErrSeqLockExhausted: the fallback lock could not be acquired within the
	// bounded retry budget. Fatal to the caller, safe to retry the whole call.
	ErrSeqLockExhausted = NewCodeError(SeqLockExhaustedError, "seq fallback lock exhausted")
	// ErrSeqStore: durable counter failed while it was the last line of defense.
	ErrSeqStore = NewCodeError(SeqStoreError, "seq durable store error")
)
