package meta

import (
	"errors"
	"fmt"
)

// Kind groups the broker's typed errors into the four failure families the
// API surfaces. Every *Error carries exactly one Kind.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidState      Kind = "invalid_state"
	KindResourceExhausted Kind = "resource_exhausted"
)

// Error is a typed broker error. Code identifies the specific failure,
// Kind its family. errors.Is against one of the sentinel values below
// matches by Code, so wrapped errors keep their identity.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// Is matches another *Error by Code, ignoring the message. A target with
// an empty Code matches any error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Kind == e.Kind
}

// Errf returns a copy of the sentinel with a formatted message, preserving
// Code and Kind so errors.Is still matches the sentinel.
func Errf(sentinel *Error, format string, args ...any) error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf extracts the Kind from an error chain, or "" for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf extracts the Code from an error chain, or "" for untyped errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Sentinel errors, one per failure the components can report. Use with
// errors.Is; produce instances with Errf to attach context.
var (
	ErrHostNotFound          = &Error{Kind: KindNotFound, Code: "HostNotFound"}
	ErrNodeNotFound          = &Error{Kind: KindNotFound, Code: "NodeNotFound"}
	ErrNodeAlreadyOwned      = &Error{Kind: KindConflict, Code: "NodeAlreadyOwned"}
	ErrNodeInUse             = &Error{Kind: KindInvalidState, Code: "NodeInUse"}
	ErrClusterAlreadyExists  = &Error{Kind: KindConflict, Code: "ClusterAlreadyExists"}
	ErrClusterNotFound       = &Error{Kind: KindNotFound, Code: "ClusterNotFound"}
	ErrClusterNotEmpty       = &Error{Kind: KindInvalidState, Code: "ClusterNotEmpty"}
	ErrNoFreeNodeAvailable   = &Error{Kind: KindResourceExhausted, Code: "NoFreeNodeAvailable"}
	ErrNodeNotInCluster      = &Error{Kind: KindNotFound, Code: "NodeNotInCluster"}
	ErrNodePinnedByMigration = &Error{Kind: KindInvalidState, Code: "NodePinnedByMigration"}
	ErrNodeHasReplica        = &Error{Kind: KindInvalidState, Code: "NodeHasReplica"}
	ErrMigrationConflict     = &Error{Kind: KindConflict, Code: "MigrationConflict"}
	ErrInvalidNodePair       = &Error{Kind: KindInvalidState, Code: "InvalidNodePair"}
	ErrMigrationNotFound     = &Error{Kind: KindNotFound, Code: "MigrationNotFound"}
	ErrMasterNotInCluster    = &Error{Kind: KindInvalidState, Code: "MasterNotInCluster"}
	ErrReplicaNotFree        = &Error{Kind: KindInvalidState, Code: "ReplicaNotFree"}
	ErrReplicaAlreadyOwned   = &Error{Kind: KindConflict, Code: "ReplicaAlreadyOwned"}
	ErrInvalidArgument       = &Error{Kind: KindInvalidState, Code: "InvalidArgument"}
)
