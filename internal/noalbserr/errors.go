// Package noalbserr collects the sentinel errors shared across NOALBS's
// packages, so callers can test for specific failure modes with
// errors.Is instead of string matching.
package noalbserr

import "errors"

var (
	// ErrNoChat is returned when a chat operation is attempted on a
	// supervisor that has no configured chat platform.
	ErrNoChat = errors.New("noalbs: no chat platform configured")

	// ErrSceneMissing describes a configured scene name that does not
	// exist in the broadcasting software's current scene list. The
	// switcher attaches it to its missing-scene log entry; no function
	// returns it.
	ErrSceneMissing = errors.New("noalbs: scene not found in broadcasting software")

	// ErrConfigInvalid describes a configuration document that fails
	// validation. The ConfigStore implementations report validation
	// failures with their own wrapped errors and do not return it.
	ErrConfigInvalid = errors.New("noalbs: configuration is invalid")

	// ErrAllStreamsDead describes a tick on which every enabled stream
	// server probe reported Error, so no health sample is available to
	// classify. The switcher's classify step reports that case by
	// returning ok == false and does not return this error.
	ErrAllStreamsDead = errors.New("noalbs: all stream server probes failed")

	// ErrAliasExists is returned when adding a chat command alias that is
	// already bound to another command.
	ErrAliasExists = errors.New("noalbs: alias already bound to a command")

	// ErrAliasNotFound describes removing an alias that isn't bound to
	// any command. Supervisor.RemoveAlias reports that case as
	// (false, nil) and does not return this error.
	ErrAliasNotFound = errors.New("noalbs: alias not bound to any command")

	// ErrNotConnected describes an operation that requires a live
	// broadcasting-software connection that isn't established. No
	// function in this module returns it.
	ErrNotConnected = errors.New("noalbs: not connected to broadcasting software")
)
