package tokens

import (
	"fmt"
	"strings"
)

// Kind classifies why a token could not be resolved.
type Kind int

const (
	KindRecordNotFound Kind = iota + 1
	KindCredentialCorrupt
	KindTokenRefreshFailed
	KindProviderTransport
	KindStore
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindRecordNotFound:
		return "record_not_found"
	case KindCredentialCorrupt:
		return "credential_corrupt"
	case KindTokenRefreshFailed:
		return "token_refresh_failed"
	case KindProviderTransport:
		return "provider_transport"
	case KindStore:
		return "store"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the tagged failure returned by [Manager.Resolve].
//
// Status and Body are set for [KindTokenRefreshFailed] when the provider replied.
type Error struct {
	Kind      Kind
	ShareCode string
	Status    int
	Body      string
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.ShareCode != "" {
		fmt.Fprintf(&b, " (share %s)", e.ShareCode)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
