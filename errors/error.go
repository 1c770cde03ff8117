// Package errors provides the daemon's typed error value. Every reject
// reason the wire codec, the peer connection and the header chain store
// hand back to their callers is a *Error so callers can switch on Code
// instead of string-matching.
package errors

import (
	"errors"
	"fmt"
)

// ERR identifies the broad category a failure belongs to. The categories
// mirror the four kinds spec.md §7 describes: codec/frame, protocol
// violation, acceptance rejection and resource/environment.
type ERR int32

const (
	ERR_UNKNOWN ERR = iota

	// Codec / frame errors (§7.1) — always fatal for the connection.
	ERR_CODEC_BAD_MAGIC
	ERR_CODEC_BAD_COMMAND
	ERR_CODEC_OVERSIZED
	ERR_CODEC_BAD_CHECKSUM
	ERR_CODEC_DISALLOWED_EMPTY
	ERR_CODEC_BAD_VARINT
	ERR_CODEC_TRUNCATED

	// Protocol violations (§7.2) — routed through the misbehavior manager.
	ERR_PROTOCOL_PRE_VERACK
	ERR_PROTOCOL_DUPLICATE_HANDSHAKE
	ERR_PROTOCOL_SELF_CONNECT
	ERR_PROTOCOL_LOW_VERSION
	ERR_PROTOCOL_UNKNOWN_COMMAND_FLOOD
	ERR_PROTOCOL_RECV_FLOOD
	ERR_PROTOCOL_OUT_OF_ORDER
	// ERR_PROTOCOL_TIMEOUT covers handshake/ping/inactivity timeouts.
	// Unlike its siblings in this block it is diagnostic only: the
	// lifecycle manager disconnects but never reports it as misbehavior.
	ERR_PROTOCOL_TIMEOUT

	// Acceptance rejections (§7.3) — returned to the caller of AcceptBlockHeader.
	ERR_CHAIN_DUPLICATE
	ERR_CHAIN_BAD_GENESIS
	ERR_CHAIN_TEST_FAILURE
	ERR_CHAIN_PREV_BLK_NOT_FOUND
	ERR_CHAIN_BAD_PREVBLK
	ERR_CHAIN_TOO_LITTLE_CHAINWORK

	// Resource / environment errors (§7.4) — logged, never affect peer scoring.
	ERR_CONFIGURATION
	ERR_IO
	ERR_TRANSPORT

	// Peer lifecycle rejections — a dial or inbound accept refused before
	// any PeerRecord exists, so there is nothing to score.
	ERR_PEER_BANNED
	ERR_PEER_LIMIT
)

var errName = map[ERR]string{
	ERR_UNKNOWN:                         "unknown",
	ERR_CODEC_BAD_MAGIC:                 "bad-magic",
	ERR_CODEC_BAD_COMMAND:               "bad-command",
	ERR_CODEC_OVERSIZED:                 "oversized",
	ERR_CODEC_BAD_CHECKSUM:              "bad-checksum",
	ERR_CODEC_DISALLOWED_EMPTY:          "disallowed-empty",
	ERR_CODEC_BAD_VARINT:                "bad-varint",
	ERR_CODEC_TRUNCATED:                 "truncated",
	ERR_PROTOCOL_PRE_VERACK:             "pre-verack-message",
	ERR_PROTOCOL_DUPLICATE_HANDSHAKE:    "duplicate-handshake",
	ERR_PROTOCOL_SELF_CONNECT:           "self-connect",
	ERR_PROTOCOL_LOW_VERSION:            "obsolete-version",
	ERR_PROTOCOL_UNKNOWN_COMMAND_FLOOD:  "unknown-command-flood",
	ERR_PROTOCOL_RECV_FLOOD:             "recv-flood",
	ERR_PROTOCOL_OUT_OF_ORDER:           "out-of-order-message",
	ERR_PROTOCOL_TIMEOUT:                "timeout",
	ERR_CHAIN_DUPLICATE:                 "duplicate",
	ERR_CHAIN_BAD_GENESIS:               "bad-genesis",
	ERR_CHAIN_TEST_FAILURE:              "test-failure",
	ERR_CHAIN_PREV_BLK_NOT_FOUND:        "prev-blk-not-found",
	ERR_CHAIN_BAD_PREVBLK:               "bad-prevblk",
	ERR_CHAIN_TOO_LITTLE_CHAINWORK:      "too-little-chainwork",
	ERR_CONFIGURATION:                   "configuration",
	ERR_IO:                              "io",
	ERR_TRANSPORT:                       "transport",
	ERR_PEER_BANNED:                     "banned",
	ERR_PEER_LIMIT:                      "connection-limit",
}

// String returns the short reject-reason token for the code, suitable for
// use as the reason field of a REJECT message or a log line.
func (e ERR) String() string {
	if s, ok := errName[e]; ok {
		return s
	}
	return fmt.Sprintf("ERR(%d)", int32(e))
}

// Error is the daemon's error value. It is always returned as *Error so a
// nil *Error assigned to an error interface does not become a non-nil
// interface value containing a nil pointer's zero-value method set surprise;
// callers should construct with New and compare with errors.Is/As.
type Error struct {
	Code       ERR
	Message    string
	WrappedErr error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.WrappedErr == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.WrappedErr)
}

// Is reports whether target is an *Error with the same Code, checking
// wrapped errors recursively.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var ue *Error
	if errors.As(target, &ue) && ue.Code == e.Code {
		return true
	}
	if unwrapped := errors.Unwrap(e); unwrapped != nil {
		return errors.Is(unwrapped, target)
	}
	return false
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.WrappedErr
}

// New builds an *Error. If the last of params is an error or *Error it is
// stored as WrappedErr and excluded from the message formatting, mirroring
// the teacher's errors.New signature.
func New(code ERR, message string, params ...interface{}) *Error {
	var wrapped error

	if len(params) > 0 {
		switch last := params[len(params)-1].(type) {
		case *Error:
			wrapped = last
			params = params[:len(params)-1]
		case error:
			wrapped = last
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	return &Error{Code: code, Message: message, WrappedErr: wrapped}
}

// Is delegates to the standard library, kept for parity with the teacher's
// package-level helper so callers don't need to import "errors" too.
func Is(err, target error) bool { return errors.Is(err, target) }

// As delegates to the standard library.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Join concatenates non-nil error messages, mirroring the teacher's helper.
func Join(errs ...error) error {
	var msg string
	for _, err := range errs {
		if err == nil {
			continue
		}
		if msg != "" {
			msg += ", "
		}
		msg += err.Error()
	}
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
