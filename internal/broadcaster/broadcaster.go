// Package broadcaster defines the BroadcastingSoftware contract the
// Switcher commands, and an obs-websocket v5 implementation of it.
package broadcaster

import "context"

// BroadcastingSoftware is the capability set the Switcher needs from a
// live compositor: scene enumeration/selection, streaming/recording
// control, and connection-status observables. A concrete implementation
// is constructed from a config.SoftwareConnection variant; today that is
// only obs-websocket, but the interface is the Switcher's entire
// dependency on it.
type BroadcastingSoftware interface {
	SceneList(ctx context.Context) ([]string, error)
	CurrentScene() string
	SetScene(ctx context.Context, name string) error

	IsStreaming() bool
	IsConnected() bool
	InitialConnectDone() bool
	WaitConnected(ctx context.Context) error

	StartStreaming(ctx context.Context) error
	StopStreaming(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
}
