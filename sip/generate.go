package sip

import (
	"github.com/google/uuid"

	"github.com/ghettovoice/siptx/internal/util"
)

// GenerateTag returns a random To/From tag.
func GenerateTag() string { return util.RandStringLC(16) }

// GenerateBranch returns a random RFC 3261 branch starting with [MagicCookie].
func GenerateBranch() string { return MagicCookie + "." + util.RandString(24) }

// GenerateCallID returns a globally unique Call-ID value.
func GenerateCallID() string { return uuid.NewString() }

// GenerateCSeq returns a random initial CSeq sequence number below 2^31.
func GenerateCSeq() uint32 { return util.RandUint31() }
