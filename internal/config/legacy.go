package config

import (
	"fmt"
	"strconv"
	"strings"
)

// legacyConfig is the v1 on-disk schema, recognized when the current-schema
// unmarshal fails. Field names mirror the original flat document so the
// conversion below stays a straight field-by-field mapping.
type legacyConfig struct {
	OBS        legacyOBS        `yaml:"obs"`
	RTMP       legacyRTMP       `yaml:"rtmp"`
	TwitchChat legacyTwitchChat `yaml:"twitch_chat"`
	Language   string           `yaml:"language"`
}

type legacyOBS struct {
	IP                     string `yaml:"ip"`
	Password               string `yaml:"password"`
	NormalScene            string `yaml:"normal_scene"`
	OfflineScene           string `yaml:"offline_scene"`
	LowBitrateScene        string `yaml:"low_bitrate_scene"`
	RefreshScene           string `yaml:"refresh_scene"`
	LowBitrateTrigger      int    `yaml:"low_bitrate_trigger"`
	HighRTTTrigger         *int   `yaml:"high_rtt_trigger"`
	RefreshSceneInterval   int    `yaml:"refresh_scene_interval"`
	OnlySwitchWhenStreaming bool  `yaml:"only_switch_when_streaming"`
}

type legacyRTMP struct {
	Server      string  `yaml:"server"`
	Stats       string  `yaml:"stats"`
	Application *string `yaml:"application"`
	Key         *string `yaml:"key"`
	ID          *string `yaml:"id"`
	Publisher   *string `yaml:"publisher"`
}

type legacyTwitchChat struct {
	Channel                         string     `yaml:"channel"`
	BotUsername                     string     `yaml:"bot_username"`
	OAuth                           string     `yaml:"oauth"`
	Enable                          bool       `yaml:"enable"`
	Prefix                          string     `yaml:"prefix"`
	EnablePublicCommands            bool       `yaml:"enable_public_commands"`
	PublicCommands                  []string   `yaml:"public_commands"`
	EnableModCommands               bool       `yaml:"enable_mod_commands"`
	ModCommands                     []string   `yaml:"mod_commands"`
	EnableAutoSwitchNotification    bool       `yaml:"enable_auto_switch_notification"`
	EnableAutoStopStreamOnHostOrRaid bool      `yaml:"enable_auto_stop_stream_on_host_or_raid"`
	AdminUsers                      []string   `yaml:"admin_users"`
	Alias                           [][]string `yaml:"alias"`
}

// fromLegacy converts a v1 document into the current Config shape, matching
// original_source/src/config.rs's `impl From<ConfigOld> for Config`.
func fromLegacy(o legacyConfig) (*Config, error) {
	host, port, err := splitHostPort(o.OBS.IP)
	if err != nil {
		return nil, fmt.Errorf("legacy obs.ip: %w", err)
	}

	password := o.OBS.Password
	cfg := &Config{
		User: User{Name: o.TwitchChat.Channel},
		Switcher: Switcher{
			BitrateSwitcherEnabled:   true,
			OnlySwitchWhenStreaming:  o.OBS.OnlySwitchWhenStreaming,
			InstantlySwitchOnRecover: true,
			AutoSwitchNotification:   o.TwitchChat.EnableAutoSwitchNotification,
			RetryAttempts:            defaultRetryAttempts,
			Triggers: Triggers{
				Low: &o.OBS.LowBitrateTrigger,
				RTT: o.OBS.HighRTTTrigger,
			},
			SwitchingScenes: SwitchingScenes{
				Normal:  o.OBS.NormalScene,
				Low:     o.OBS.LowBitrateScene,
				Offline: o.OBS.OfflineScene,
			},
		},
		Software: SoftwareConnection{
			Kind: "obs",
			OBS: &OBSConfig{
				Host:        host,
				Password:    &password,
				Port:        port,
				Collections: map[string]CollectionPair{},
			},
		},
		OptionalScenes:  OptionalScenes{},
		OptionalOptions: defaultOptionalOptions(),
	}

	chat := Chat{
		Platform:                         ChatPlatform{Kind: ChatPlatformTwitch},
		Username:                         o.TwitchChat.Channel,
		Admins:                           o.TwitchChat.AdminUsers,
		Language:                         "en",
		Prefix:                           o.TwitchChat.Prefix,
		EnablePublicCommands:             o.TwitchChat.EnablePublicCommands,
		EnableModCommands:                o.TwitchChat.EnableModCommands,
		EnableAutoStopStreamOnHostOrRaid: o.TwitchChat.EnableAutoStopStreamOnHostOrRaid,
		AnnounceRaidOnAutoStop:           true,
		Commands:                         map[string]CommandInfo{},
	}

	for _, c := range o.TwitchChat.ModCommands {
		updateCommand(chat.Commands, c, PermissionMod, "")
	}
	for _, c := range o.TwitchChat.PublicCommands {
		updateCommand(chat.Commands, c, PermissionPublic, "")
	}
	for _, pair := range o.TwitchChat.Alias {
		if len(pair) != 2 {
			continue
		}
		updateCommand(chat.Commands, pair[1], "", pair[0])
	}

	if _, ok := chat.Commands[CommandSwitch]; !ok {
		updateCommand(chat.Commands, "switch", PermissionMod, "ss")
	}
	if _, ok := chat.Commands[CommandFix]; !ok {
		updateCommand(chat.Commands, "fix", PermissionMod, "f")
	}

	if o.Language != "" {
		chat.Language = o.Language
	}
	cfg.Chat = &chat

	entry, err := legacyStreamServerEntry(o.RTMP)
	if err != nil {
		return nil, err
	}
	cfg.Switcher.AddStreamServer(entry)

	return cfg, nil
}

func legacyStreamServerEntry(r legacyRTMP) (StreamServerEntry, error) {
	name := "SRT"
	var probe StreamServerProbe

	switch r.Server {
	case ProbeKindNginx:
		name = "RTMP"
		probe = StreamServerProbe{Kind: ProbeKindNginx, StatsURL: r.Stats, Application: derefStr(r.Application), Key: derefStr(r.Key)}
	case ProbeKindNodeMediaServer:
		name = "RTMP"
		probe = StreamServerProbe{Kind: ProbeKindNodeMediaServer, StatsURL: r.Stats, Application: derefStr(r.Application), Key: derefStr(r.Key)}
	case ProbeKindNimble:
		probe = StreamServerProbe{Kind: ProbeKindNimble, StatsURL: r.Stats, Application: derefStr(r.Application), Key: derefStr(r.Key), ID: derefStr(r.ID)}
	case ProbeKindSRTLiveServer:
		if strings.Contains(r.Stats, "belabox.net") {
			name = "BELABOX"
			probe = StreamServerProbe{Kind: ProbeKindBelabox, StatsURL: r.Stats, Publisher: derefStr(r.Publisher)}
		} else {
			probe = StreamServerProbe{Kind: ProbeKindSRTLiveServer, StatsURL: r.Stats, Publisher: derefStr(r.Publisher)}
		}
	default:
		return StreamServerEntry{}, fmt.Errorf("legacy rtmp.server: unsupported server kind %q", r.Server)
	}

	return StreamServerEntry{
		Probe:   probe,
		Name:    name,
		Enabled: true,
	}, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func splitHostPort(ipPort string) (string, uint16, error) {
	parts := strings.SplitN(ipPort, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("expected host:port, got %q", ipPort)
	}
	port, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", parts[1], err)
	}
	return parts[0], uint16(port), nil
}

func updateCommand(commands map[string]CommandInfo, command, permission, alias string) {
	info := commands[command]
	if permission != "" {
		info.Permission = permission
	}
	if alias != "" {
		info.Alias = append(info.Alias, alias)
	}
	commands[command] = info
}
