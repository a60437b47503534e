package sip

import "github.com/ghettovoice/siptx/internal/util"

// Method is a SIP request method.
// Methods are case-sensitive tokens, any extension method is represented as is.
type Method string

const (
	MethodInvite    Method = "INVITE"
	MethodAck       Method = "ACK"
	MethodCancel    Method = "CANCEL"
	MethodBye       Method = "BYE"
	MethodRegister  Method = "REGISTER"
	MethodOptions   Method = "OPTIONS"
	MethodPrack     Method = "PRACK"
	MethodRefer     Method = "REFER"
	MethodSubscribe Method = "SUBSCRIBE"
	MethodNotify    Method = "NOTIFY"
	MethodInfo      Method = "INFO"
	MethodUpdate    Method = "UPDATE"
	MethodMessage   Method = "MESSAGE"
	MethodPublish   Method = "PUBLISH"
)

var knownMethods = []Method{
	MethodInvite, MethodAck, MethodCancel, MethodBye, MethodRegister, MethodOptions, MethodPrack,
	MethodRefer, MethodSubscribe, MethodNotify, MethodInfo, MethodUpdate, MethodMessage, MethodPublish,
}

// IsKnown reports whether the method is one of the methods defined by RFC 3261 and its extensions.
// Unknown methods are still valid and are handled as generic requests.
func (m Method) IsKnown() bool {
	for _, km := range knownMethods {
		if m == km {
			return true
		}
	}
	return false
}

// IsValid reports whether the method is a non-empty upper case token.
func (m Method) IsValid() bool {
	return m != "" && util.UCase(m) == m
}

func (m Method) String() string { return string(m) }

// IsDialogCreating reports whether a 2xx response to the method establishes a dialog.
func (m Method) IsDialogCreating() bool {
	return m == MethodInvite || m == MethodSubscribe || m == MethodRefer
}
