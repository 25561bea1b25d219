package errs

const (
	ServerInternalError = 500

	AuthenticationRequiredError = 1001 // no strategy matched
	AuthenticationFailedError   = 1002 // a strategy was attempted and rejected
	PermissionDeniedError       = 1003
	RoleMismatchError           = 1004
	RateLimitExceededError      = 1005
	UpstreamUnavailableError    = 1006 // identity provider or cluster channel
	NotFoundError               = 1007
	InvalidArgumentError        = 1008
	UnknownEventError           = 1009
)

var (
	ServerInternal         = NewCodeError(ServerInternalError, "ServerInternalError")
	AuthenticationRequired = NewCodeError(AuthenticationRequiredError, "AuthenticationRequired")
	AuthenticationFailed   = NewCodeError(AuthenticationFailedError, "AuthenticationFailed")
	PermissionDenied       = NewCodeError(PermissionDeniedError, "PermissionDenied")
	RoleMismatch           = NewCodeError(RoleMismatchError, "RoleMismatch")
	RateLimitExceeded      = NewCodeError(RateLimitExceededError, "RateLimitExceeded")
	UpstreamUnavailable    = NewCodeError(UpstreamUnavailableError, "UpstreamUnavailable")
	NotFound               = NewCodeError(NotFoundError, "NotFound")
	InvalidArgument        = NewCodeError(InvalidArgumentError, "InvalidArgument")
	UnknownEvent           = NewCodeError(UnknownEventError, "UnknownEvent")
)
