// Package config defines the on-disk shape of a NOALBS instance and the
// stores that load and persist it. The YAML layout and default values
// follow the same load/validate/default pattern the agent configuration
// used, generalized from a single flat document to the nested
// user/switcher/software/chat document a running instance needs.
package config

import (
	"fmt"
)

const defaultRetryAttempts = 5

// Config is the full on-disk document for one NOALBS instance.
type Config struct {
	User            User               `yaml:"user"`
	Switcher        Switcher           `yaml:"switcher"`
	Software        SoftwareConnection `yaml:"software"`
	Chat            *Chat              `yaml:"chat,omitempty"`
	OptionalScenes  OptionalScenes     `yaml:"optional_scenes"`
	OptionalOptions OptionalOptions    `yaml:"optional_options"`
}

// User identifies the streamer this configuration belongs to.
type User struct {
	ID           *int64  `yaml:"id,omitempty"`
	Name         string  `yaml:"name"`
	PasswordHash *string `yaml:"password_hash,omitempty"`
}

// Triggers holds the bitrate/RTT thresholds that drive hysteresis. A nil
// field means that trigger is disabled.
type Triggers struct {
	Low        *int `yaml:"low,omitempty"`
	RTT        *int `yaml:"rtt,omitempty"`
	Offline    *int `yaml:"offline,omitempty"`
	RTTOffline *int `yaml:"rtt_offline,omitempty"`
}

// SwitchingScenes names the three scenes the switcher moves between.
type SwitchingScenes struct {
	Normal  string `yaml:"normal"`
	Low     string `yaml:"low"`
	Offline string `yaml:"offline"`
}

// DependsOn suppresses a probe's Normal contribution for a grace period
// after the named probe last reported Online.
type DependsOn struct {
	Name                string `yaml:"name"`
	BackToNormalSeconds int    `yaml:"back_to_normal_seconds"`
}

// Probe kinds recognized by the streamserver package.
const (
	ProbeKindNginx           = "nginx"
	ProbeKindNodeMediaServer = "node-media-server"
	ProbeKindNimble          = "nimble"
	ProbeKindSRTLiveServer   = "srt-live-server"
	ProbeKindBelabox         = "belabox"
)

// StreamServerProbe is the wire shape of a single probe. Fields not used by
// Kind are left zero; this flattened layout avoids fighting YAML for a sum
// type the way the original Rust config used serde's tagged enums.
type StreamServerProbe struct {
	Kind        string  `yaml:"kind"`
	StatsURL    string  `yaml:"stats_url,omitempty"`
	Application string  `yaml:"application,omitempty"`
	Key         string  `yaml:"key,omitempty"`
	Auth        *string `yaml:"auth,omitempty"`
	ID          string  `yaml:"id,omitempty"`
	Publisher   string  `yaml:"publisher,omitempty"`
}

// StreamServerEntry is one watched stream server.
type StreamServerEntry struct {
	Probe          StreamServerProbe `yaml:"probe"`
	Name           string            `yaml:"name"`
	Priority       *int              `yaml:"priority,omitempty"`
	OverrideScenes *SwitchingScenes  `yaml:"override_scenes,omitempty"`
	DependsOn      *DependsOn        `yaml:"depends_on,omitempty"`
	Enabled        bool              `yaml:"enabled"`
}

// Switcher holds everything that can be changed at runtime through the
// supervisor without restarting the process.
type Switcher struct {
	BitrateSwitcherEnabled   bool                `yaml:"bitrate_switcher_enabled"`
	OnlySwitchWhenStreaming  bool                `yaml:"only_switch_when_streaming"`
	InstantlySwitchOnRecover bool                `yaml:"instantly_switch_on_recover"`
	AutoSwitchNotification   bool                `yaml:"auto_switch_notification"`
	RetryAttempts            int                 `yaml:"retry_attempts"`
	Triggers                 Triggers            `yaml:"triggers"`
	SwitchingScenes          SwitchingScenes     `yaml:"switching_scenes"`
	StreamServers            []StreamServerEntry `yaml:"stream_servers"`
}

// AddStreamServer appends a stream server and re-sorts by priority.
func (s *Switcher) AddStreamServer(entry StreamServerEntry) {
	s.StreamServers = append(s.StreamServers, entry)
	s.SortStreamServers()
}

// SortStreamServers orders stream servers ascending by priority; entries
// with no priority sort after all prioritized entries, in original order.
func (s *Switcher) SortStreamServers() {
	sortStreamServersByPriority(s.StreamServers)
}

func sortStreamServersByPriority(entries []StreamServerEntry) {
	// Stable insertion sort: the slice is small (a handful of servers at
	// most) and stability matters to keep unprioritized entries in
	// configuration order.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && priorityLess(entries[j], entries[j-1]); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func priorityLess(a, b StreamServerEntry) bool {
	switch {
	case a.Priority == nil && b.Priority == nil:
		return false
	case a.Priority == nil:
		return false
	case b.Priority == nil:
		return true
	default:
		return *a.Priority < *b.Priority
	}
}

// SetBitrateSwitcherEnabled toggles the switcher on or off.
func (s *Switcher) SetBitrateSwitcherEnabled(enabled bool) {
	s.BitrateSwitcherEnabled = enabled
}

func defaultSwitcher() Switcher {
	return Switcher{
		BitrateSwitcherEnabled:   true,
		OnlySwitchWhenStreaming:  true,
		InstantlySwitchOnRecover: true,
		AutoSwitchNotification:  true,
		RetryAttempts:            defaultRetryAttempts,
		SwitchingScenes: SwitchingScenes{
			Normal:  "live",
			Low:     "low",
			Offline: "offline",
		},
	}
}

// SoftwareConnection is a tagged union of supported broadcasting software
// connections. Only "obs" is currently supported.
type SoftwareConnection struct {
	Kind string     `yaml:"kind"`
	OBS  *OBSConfig `yaml:"obs,omitempty"`
}

// OBSConfig holds obs-websocket connection details.
type OBSConfig struct {
	Host        string                    `yaml:"host"`
	Password    *string                   `yaml:"password,omitempty"`
	Port        uint16                    `yaml:"port"`
	Collections map[string]CollectionPair `yaml:"collections,omitempty"`
	TLS         *ClientTLSConfig          `yaml:"tls,omitempty"`
}

// ClientTLSConfig configures mutual TLS for an obs-websocket connection
// that crosses a TLS-terminating reverse proxy with client-cert auth,
// instead of a bare local "ws://" socket.
type ClientTLSConfig struct {
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// CollectionPair names a configurable OBS profile/scene-collection pair.
type CollectionPair struct {
	Profile    string `yaml:"profile"`
	Collection string `yaml:"collection"`
}

// ChatPlatform is a tagged union of supported chat platforms.
type ChatPlatform struct {
	Kind        string  `yaml:"kind"`
	ChannelID   *int    `yaml:"channel_id,omitempty"`
	ChatroomID  *int    `yaml:"chatroom_id,omitempty"`
	LiveChatID  *string `yaml:"live_chat_id,omitempty"`
	UseIRLProxy *bool   `yaml:"use_irlproxy,omitempty"`
}

const (
	ChatPlatformTwitch  = "twitch"
	ChatPlatformKick    = "kick"
	ChatPlatformYoutube = "youtube"
)

// CommandInfo controls who may invoke a chat command and its aliases.
type CommandInfo struct {
	Permission      string   `yaml:"permission,omitempty"`
	UserPermissions []string `yaml:"user_permissions,omitempty"`
	Alias           []string `yaml:"alias,omitempty"`
}

const (
	PermissionPublic = "public"
	PermissionMod    = "mod"
)

// Known chat commands.
const (
	CommandSwitch     = "switch"
	CommandFix        = "fix"
	CommandRefresh    = "refresh"
	CommandTrigger    = "trigger"
	CommandSourceInfo = "sourceinfo"
	CommandOBSInfo    = "obsinfo"
	CommandBitrate    = "bitrate"
)

// Chat holds the optional chat-bot integration settings.
type Chat struct {
	Platform                         ChatPlatform           `yaml:"platform"`
	Username                         string                 `yaml:"username"`
	Admins                           []string               `yaml:"admins"`
	Language                         string                 `yaml:"language"`
	Prefix                           string                 `yaml:"prefix"`
	EnablePublicCommands             bool                   `yaml:"enable_public_commands"`
	EnableModCommands                bool                   `yaml:"enable_mod_commands"`
	EnableAutoStopStreamOnHostOrRaid bool                   `yaml:"enable_auto_stop_stream_on_host_or_raid"`
	AnnounceRaidOnAutoStop           bool                   `yaml:"announce_raid_on_auto_stop"`
	Commands                         map[string]CommandInfo `yaml:"commands,omitempty"`
}

func defaultChat() Chat {
	return Chat{
		Platform:                         ChatPlatform{Kind: ChatPlatformTwitch},
		Language:                         "en",
		Prefix:                           "!",
		EnablePublicCommands:             true,
		EnableModCommands:                true,
		EnableAutoStopStreamOnHostOrRaid: true,
		AnnounceRaidOnAutoStop:           true,
	}
}

// OptionalScenes names scenes used outside the core normal/low/offline set.
type OptionalScenes struct {
	Starting *string `yaml:"starting,omitempty"`
	Ending   *string `yaml:"ending,omitempty"`
	Privacy  *string `yaml:"privacy,omitempty"`
	Refresh  *string `yaml:"refresh,omitempty"`
}

// OptionalOptions holds secondary behavior toggles.
type OptionalOptions struct {
	TwitchTranscodingCheck               bool    `yaml:"twitch_transcoding_check"`
	TwitchTranscodingRetries             uint    `yaml:"twitch_transcoding_retries"`
	TwitchTranscodingDelaySeconds        uint    `yaml:"twitch_transcoding_delay_seconds"`
	OfflineTimeout                       *uint32 `yaml:"offline_timeout,omitempty"`
	RecordWhileStreaming                 bool    `yaml:"record_while_streaming"`
	SwitchToStartingSceneOnStreamStart   bool    `yaml:"switch_to_starting_scene_on_stream_start"`
	SwitchFromStartingSceneToLiveScene   bool    `yaml:"switch_from_starting_scene_to_live_scene"`
}

func defaultOptionalOptions() OptionalOptions {
	return OptionalOptions{
		TwitchTranscodingRetries:      5,
		TwitchTranscodingDelaySeconds: 15,
	}
}

// HubConfig configures the process-level admin HTTP API a Hub serves,
// generalized from the teacher's WebUIConfig to NOALBS's per-user event
// and session stores instead of a single shared one.
type HubConfig struct {
	ListenAddr      string           `yaml:"listen_addr"`
	ACLCIDRs        []string         `yaml:"acl_cidrs"`
	EventLogDir     string           `yaml:"event_log_dir"`
	SessionLogDir   string           `yaml:"session_log_dir"`
	EventRingSize   int              `yaml:"event_ring_size"`
	EventMaxLines   int              `yaml:"event_max_lines"`
	SessionRingSize int              `yaml:"session_ring_size"`
	SessionMaxLines int              `yaml:"session_max_lines"`
	TLS             *ServerTLSConfig `yaml:"tls,omitempty"`
}

// ServerTLSConfig configures mutual TLS for the Hub's admin HTTP API, an
// alternative to (or stacked with) its CIDR-based ACL for exposure
// beyond a trusted LAN/VPN.
type ServerTLSConfig struct {
	CACert     string `yaml:"ca_cert"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
}

func defaultHubConfig() HubConfig {
	return HubConfig{
		ListenAddr:      "127.0.0.1:9393",
		ACLCIDRs:        []string{"127.0.0.1/32", "::1/128"},
		EventLogDir:     "events",
		SessionLogDir:   "sessions",
		EventRingSize:   500,
		EventMaxLines:   10000,
		SessionRingSize: 200,
		SessionMaxLines: 5000,
	}
}

// LoggingConfig configures process-wide structured logging, the same
// level/format/file triple the teacher's logging.NewLogger takes.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "json"}
}

// ProcessConfig is the top-level document cmd/noalbs loads: the shared
// Hub admin API settings plus the path to each configured user's
// Config file, mirroring the teacher's ServerConfig.Storages map of
// independently-configured units under one process.
type ProcessConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Hub     HubConfig     `yaml:"hub"`
	Users   []string      `yaml:"users"`
}

// DefaultProcessConfig returns a ProcessConfig with hub/logging defaults
// and no users configured yet.
func DefaultProcessConfig() *ProcessConfig {
	return &ProcessConfig{Hub: defaultHubConfig(), Logging: defaultLoggingConfig()}
}

func (p *ProcessConfig) validate() error {
	if p.Logging.Level == "" {
		p.Logging.Level = defaultLoggingConfig().Level
	}
	if p.Logging.Format == "" {
		p.Logging.Format = defaultLoggingConfig().Format
	}
	if p.Hub.ListenAddr == "" {
		return fmt.Errorf("hub.listen_addr is required")
	}
	if len(p.Users) == 0 {
		return fmt.Errorf("users must list at least one user config path")
	}
	if p.Hub.EventRingSize <= 0 {
		p.Hub.EventRingSize = defaultHubConfig().EventRingSize
	}
	if p.Hub.EventMaxLines <= 0 {
		p.Hub.EventMaxLines = defaultHubConfig().EventMaxLines
	}
	if p.Hub.SessionRingSize <= 0 {
		p.Hub.SessionRingSize = defaultHubConfig().SessionRingSize
	}
	if p.Hub.SessionMaxLines <= 0 {
		p.Hub.SessionMaxLines = defaultHubConfig().SessionMaxLines
	}
	return nil
}

// Default returns a Config with the same defaults the original NOALBS
// schema applied to a brand-new instance.
func Default(name string) *Config {
	chat := defaultChat()
	chat.Username = name
	return &Config{
		User:            User{Name: name},
		Switcher:        defaultSwitcher(),
		Software:        SoftwareConnection{Kind: "obs", OBS: &OBSConfig{Host: "localhost", Port: 4455}},
		Chat:            &chat,
		OptionalScenes:  OptionalScenes{},
		OptionalOptions: defaultOptionalOptions(),
	}
}

func (c *Config) validate() error {
	if c.User.Name == "" {
		return fmt.Errorf("user.name is required")
	}
	if c.Software.Kind == "" {
		return fmt.Errorf("software.kind is required")
	}
	if c.Software.Kind == "obs" && c.Software.OBS == nil {
		return fmt.Errorf("software.obs is required when software.kind is obs")
	}
	if c.Switcher.RetryAttempts <= 0 {
		c.Switcher.RetryAttempts = defaultRetryAttempts
	}
	if c.Switcher.SwitchingScenes.Normal == "" {
		return fmt.Errorf("switcher.switching_scenes.normal is required")
	}
	if c.Switcher.SwitchingScenes.Low == "" {
		return fmt.Errorf("switcher.switching_scenes.low is required")
	}
	if c.Switcher.SwitchingScenes.Offline == "" {
		return fmt.Errorf("switcher.switching_scenes.offline is required")
	}
	for i, entry := range c.Switcher.StreamServers {
		if entry.Name == "" {
			return fmt.Errorf("switcher.stream_servers[%d].name is required", i)
		}
		if entry.Probe.Kind == "" {
			return fmt.Errorf("switcher.stream_servers[%d].probe.kind is required", i)
		}
	}
	c.Switcher.SortStreamServers()

	if c.Chat != nil {
		c.Chat.Username = lowerASCII(c.Chat.Username)
		for i, admin := range c.Chat.Admins {
			c.Chat.Admins[i] = lowerASCII(admin)
		}
		for key, info := range c.Chat.Commands {
			for i, perm := range info.UserPermissions {
				info.UserPermissions[i] = lowerASCII(perm)
			}
			c.Chat.Commands[key] = info
		}
	}

	return nil
}

// Clone deep-copies a Config so a caller can read a consistent snapshot
// while a supervisor concurrently mutates the original in place.
func (c *Config) Clone() *Config {
	out := *c

	if c.User.ID != nil {
		id := *c.User.ID
		out.User.ID = &id
	}
	if c.User.PasswordHash != nil {
		h := *c.User.PasswordHash
		out.User.PasswordHash = &h
	}

	out.Switcher = c.Switcher.clone()
	out.Software = c.Software.clone()

	if c.Chat != nil {
		chat := c.Chat.clone()
		out.Chat = &chat
	}

	out.OptionalScenes = c.OptionalScenes.clone()
	out.OptionalOptions = c.OptionalOptions
	if c.OptionalOptions.OfflineTimeout != nil {
		t := *c.OptionalOptions.OfflineTimeout
		out.OptionalOptions.OfflineTimeout = &t
	}

	return &out
}

func (s Switcher) clone() Switcher {
	out := s
	out.Triggers = s.Triggers.clone()
	if s.StreamServers != nil {
		out.StreamServers = make([]StreamServerEntry, len(s.StreamServers))
		for i, e := range s.StreamServers {
			out.StreamServers[i] = e.clone()
		}
	}
	return out
}

func (t Triggers) clone() Triggers {
	out := t
	if t.Low != nil {
		v := *t.Low
		out.Low = &v
	}
	if t.RTT != nil {
		v := *t.RTT
		out.RTT = &v
	}
	if t.Offline != nil {
		v := *t.Offline
		out.Offline = &v
	}
	if t.RTTOffline != nil {
		v := *t.RTTOffline
		out.RTTOffline = &v
	}
	return out
}

func (e StreamServerEntry) clone() StreamServerEntry {
	out := e
	if e.Priority != nil {
		v := *e.Priority
		out.Priority = &v
	}
	if e.OverrideScenes != nil {
		v := *e.OverrideScenes
		out.OverrideScenes = &v
	}
	if e.DependsOn != nil {
		v := *e.DependsOn
		out.DependsOn = &v
	}
	if e.Probe.Auth != nil {
		v := *e.Probe.Auth
		out.Probe.Auth = &v
	}
	return out
}

func (sc SoftwareConnection) clone() SoftwareConnection {
	out := sc
	if sc.OBS != nil {
		obs := *sc.OBS
		if sc.OBS.Password != nil {
			p := *sc.OBS.Password
			obs.Password = &p
		}
		if sc.OBS.Collections != nil {
			obs.Collections = make(map[string]CollectionPair, len(sc.OBS.Collections))
			for k, v := range sc.OBS.Collections {
				obs.Collections[k] = v
			}
		}
		if sc.OBS.TLS != nil {
			tlsCfg := *sc.OBS.TLS
			obs.TLS = &tlsCfg
		}
		out.OBS = &obs
	}
	return out
}

func (c Chat) clone() Chat {
	out := c
	if c.Platform.ChannelID != nil {
		v := *c.Platform.ChannelID
		out.Platform.ChannelID = &v
	}
	if c.Platform.ChatroomID != nil {
		v := *c.Platform.ChatroomID
		out.Platform.ChatroomID = &v
	}
	if c.Platform.LiveChatID != nil {
		v := *c.Platform.LiveChatID
		out.Platform.LiveChatID = &v
	}
	if c.Platform.UseIRLProxy != nil {
		v := *c.Platform.UseIRLProxy
		out.Platform.UseIRLProxy = &v
	}
	if c.Admins != nil {
		out.Admins = append([]string(nil), c.Admins...)
	}
	if c.Commands != nil {
		out.Commands = make(map[string]CommandInfo, len(c.Commands))
		for k, v := range c.Commands {
			info := v
			info.UserPermissions = append([]string(nil), v.UserPermissions...)
			info.Alias = append([]string(nil), v.Alias...)
			out.Commands[k] = info
		}
	}
	return out
}

func (s OptionalScenes) clone() OptionalScenes {
	out := s
	if s.Starting != nil {
		v := *s.Starting
		out.Starting = &v
	}
	if s.Ending != nil {
		v := *s.Ending
		out.Ending = &v
	}
	if s.Privacy != nil {
		v := *s.Privacy
		out.Privacy = &v
	}
	if s.Refresh != nil {
		v := *s.Refresh
		out.Refresh = &v
	}
	return out
}

func lowerASCII(s string) string {
	out := []byte(s)
	for i, b := range out {
		if b >= 'A' && b <= 'Z' {
			out[i] = b + ('a' - 'A')
		}
	}
	return string(out)
}
