// Package cerr defines the engine's error taxonomy: a small set of named
// kinds that the command layer maps onto exit codes and the JSON error
// envelope, independent of the wrapped Go error chain underneath.
package cerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of error in the taxonomy.
type Kind string

const (
	ConfigNotFound              Kind = "ConfigNotFound"
	ConfigParse                 Kind = "ConfigParse"
	InvalidFilename             Kind = "InvalidFilename"
	ExtendsCycle                Kind = "ExtendsCycle"
	SubstitutionUnresolvable    Kind = "SubstitutionUnresolvable"
	MetadataFetch               Kind = "MetadataFetch"
	AuthFailed                  Kind = "AuthFailed"
	NetworkTimeout              Kind = "NetworkTimeout"
	RegistryProtocol            Kind = "RegistryProtocol"
	FeatureCycle                Kind = "FeatureCycle"
	OptionValidation            Kind = "OptionValidation"
	LockfileMismatch            Kind = "LockfileMismatch"
	ComposeServiceMissing       Kind = "ComposeServiceMissing"
	UnsupportedInComposeMode    Kind = "UnsupportedInComposeMode"
	ConflictingOutputs          Kind = "ConflictingOutputs"
	DuplicateTag                Kind = "DuplicateTag"
	OutputDestinationUnwritable Kind = "OutputDestinationUnwritable"
	BuildKitRequired            Kind = "BuildKitRequired"
	ContainerNotFound           Kind = "ContainerNotFound"
	HookFailed                  Kind = "HookFailed"
	RuntimeUnavailable          Kind = "RuntimeUnavailable"
	InvalidVersion              Kind = "InvalidVersion"
	PublishConflict             Kind = "PublishConflict"
)

// Error is a taxonomy-tagged error. The command layer type-asserts for this
// to build the {outcome, errorKind, message} JSON envelope; everything else
// just sees a normal error via Error()/Unwrap().
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a taxonomy error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates a taxonomy error wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// As extracts the *Error from err's chain, if any.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
