package sip

// Response status codes used by the transaction layer.
const (
	StatusTrying                      = 100
	StatusRinging                     = 180
	StatusCallIsBeingForwarded        = 181
	StatusQueued                      = 182
	StatusSessionProgress             = 183
	StatusOK                          = 200
	StatusAccepted                    = 202
	StatusMultipleChoices             = 300
	StatusMovedPermanently            = 301
	StatusMovedTemporarily            = 302
	StatusBadRequest                  = 400
	StatusUnauthorized                = 401
	StatusForbidden                   = 403
	StatusNotFound                    = 404
	StatusMethodNotAllowed            = 405
	StatusRequestTimeout              = 408
	StatusBadExtension                = 420
	StatusTemporarilyUnavailable      = 480
	StatusCallTransactionDoesNotExist = 481
	StatusBusyHere                    = 486
	StatusRequestTerminated           = 487
	StatusServerInternalError         = 500
	StatusServiceUnavailable          = 503
	StatusServerTimeout               = 504
	StatusBusyEverywhere              = 600
	StatusDecline                     = 603
)

var reasonPhrases = map[int]string{
	StatusTrying:                      "Trying",
	StatusRinging:                     "Ringing",
	StatusCallIsBeingForwarded:        "Call Is Being Forwarded",
	StatusQueued:                      "Queued",
	StatusSessionProgress:             "Session Progress",
	StatusOK:                          "OK",
	StatusAccepted:                    "Accepted",
	StatusMultipleChoices:             "Multiple Choices",
	StatusMovedPermanently:            "Moved Permanently",
	StatusMovedTemporarily:            "Moved Temporarily",
	StatusBadRequest:                  "Bad Request",
	StatusUnauthorized:                "Unauthorized",
	StatusForbidden:                   "Forbidden",
	StatusNotFound:                    "Not Found",
	StatusMethodNotAllowed:            "Method Not Allowed",
	StatusRequestTimeout:              "Request Timeout",
	StatusBadExtension:                "Bad Extension",
	StatusTemporarilyUnavailable:      "Temporarily Unavailable",
	StatusCallTransactionDoesNotExist: "Call/Transaction Does Not Exist",
	StatusBusyHere:                    "Busy Here",
	StatusRequestTerminated:           "Request Terminated",
	StatusServerInternalError:         "Server Internal Error",
	StatusServiceUnavailable:          "Service Unavailable",
	StatusServerTimeout:               "Server Time-out",
	StatusBusyEverywhere:              "Busy Everywhere",
	StatusDecline:                     "Decline",
}

// ReasonPhrase returns the default reason phrase for the status code.
// Codes without a registered phrase get a phrase of their class.
func ReasonPhrase(code int) string {
	if p, ok := reasonPhrases[code]; ok {
		return p
	}
	switch {
	case IsProvisional(code):
		return "Session Progress"
	case IsSuccessful(code):
		return "OK"
	case code >= 300 && code < 400:
		return "Redirection"
	case code >= 400 && code < 500:
		return "Request Failure"
	case code >= 500 && code < 600:
		return "Server Failure"
	case code >= 600 && code < 700:
		return "Global Failure"
	default:
		return "Unknown"
	}
}

// IsValidStatus reports whether code is in range 100-699.
func IsValidStatus(code int) bool { return code >= 100 && code <= 699 }

func IsProvisional(code int) bool { return code >= 100 && code < 200 }

func IsFinal(code int) bool { return code >= 200 && code <= 699 }

func IsSuccessful(code int) bool { return code >= 200 && code < 300 }
