package errs

// Error codes grouped by concern. 1xxx generic, 2xxx chat domain.
const (
	ServerInternalError = 1000
	ArgsError           = 1001
	Unauthenticated     = 1002

	MessageEmptyContent   = 2001
	NotConversationMember = 2002
	MessagePersistFailed  = 2004
	MessageNotFound       = 2005
	RecallNotSender       = 2006
)

var (
	ErrInternal        = NewCodeError(ServerInternalError, "server internal error")
	ErrArgs            = NewCodeError(ArgsError, "invalid argument")
	ErrUnauthenticated = NewCodeError(Unauthenticated, "connection not authenticated")

	ErrEmptyContent    = NewCodeError(MessageEmptyContent, "message content is empty")
	ErrNotMember       = NewCodeError(NotConversationMember, "not an active conversation member")
	ErrPersistFailed   = NewCodeError(MessagePersistFailed, "message persist failed")
	ErrMessageNotFound = NewCodeError(MessageNotFound, "message not found")
	ErrRecallNotSender = NewCodeError(RecallNotSender, "only the sender may recall a message")
)
