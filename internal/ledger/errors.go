package ledger

import (
	"errors"
	"fmt"
)

// Kind tags a ledger failure so callers can react to it without parsing text.
type Kind string

const (
	KindUnauthorized          Kind = "Unauthorized"
	KindAlreadyInitialized    Kind = "AlreadyInitialized"
	KindNotInitialized        Kind = "NotInitialized"
	KindAssetAlreadySupported Kind = "AssetAlreadySupported"
	KindUnsupportedToken      Kind = "UnsupportedToken"
	KindInvalidAmount         Kind = "InvalidAmount"
	KindInvalidIdentity       Kind = "InvalidIdentity"
	KindInsufficientBalance   Kind = "InsufficientBalance"
	KindInsufficientStake     Kind = "InsufficientStake"
	KindStakeLocked           Kind = "StakeLocked"
	KindInsufficientTreasury  Kind = "InsufficientTreasury"
	KindNoRewards             Kind = "NoRewards"
	KindNumericalOverflow     Kind = "NumericalOverflow"
	KindInvalidTimestamp      Kind = "InvalidTimestamp"
	KindNotFound              Kind = "NotFound"
)

// Error is returned by every rejected ledger operation.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Msg
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNoRewards)
// holds regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrAlreadyInitialized    = &Error{Kind: KindAlreadyInitialized}
	ErrNotInitialized        = &Error{Kind: KindNotInitialized}
	ErrAssetAlreadySupported = &Error{Kind: KindAssetAlreadySupported}
	ErrUnsupportedToken      = &Error{Kind: KindUnsupportedToken}
	ErrInvalidAmount         = &Error{Kind: KindInvalidAmount}
	ErrInvalidIdentity       = &Error{Kind: KindInvalidIdentity}
	ErrInsufficientBalance   = &Error{Kind: KindInsufficientBalance}
	ErrInsufficientStake     = &Error{Kind: KindInsufficientStake}
	ErrStakeLocked           = &Error{Kind: KindStakeLocked}
	ErrInsufficientTreasury  = &Error{Kind: KindInsufficientTreasury}
	ErrNoRewards             = &Error{Kind: KindNoRewards}
	ErrNumericalOverflow     = &Error{Kind: KindNumericalOverflow}
	ErrInvalidTimestamp      = &Error{Kind: KindInvalidTimestamp}
	ErrNotFound              = &Error{Kind: KindNotFound}
)

func errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a ledger error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return "", false
}
