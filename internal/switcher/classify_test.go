package switcher

import (
	"testing"

	"github.com/noalbs/noalbs/internal/config"
	"github.com/noalbs/noalbs/internal/streamserver"
)

func intPtr(n int) *int { return &n }

func TestClassifySample_RTTTrigger(t *testing.T) {
	tr := config.Triggers{RTT: intPtr(100)}
	h := streamserver.StreamHealth{Kind: streamserver.Online, BitrateKbps: 3000, RTTMs: 150, HasRTT: true}
	if got := classifySample(h, tr); got != SwitchRtt {
		t.Fatalf("expected SwitchRtt, got %v", got)
	}
}

func TestClassifySample_RTTBelowThresholdStaysNormal(t *testing.T) {
	tr := config.Triggers{RTT: intPtr(100)}
	h := streamserver.StreamHealth{Kind: streamserver.Online, BitrateKbps: 3000, RTTMs: 40, HasRTT: true}
	if got := classifySample(h, tr); got != SwitchNormal {
		t.Fatalf("expected SwitchNormal, got %v", got)
	}
}

func TestClassifySample_RTTIgnoredWithoutHasRTT(t *testing.T) {
	tr := config.Triggers{RTT: intPtr(100)}
	h := streamserver.StreamHealth{Kind: streamserver.Online, BitrateKbps: 3000, RTTMs: 999, HasRTT: false}
	if got := classifySample(h, tr); got != SwitchNormal {
		t.Fatalf("expected SwitchNormal when probe never reported RTT, got %v", got)
	}
}

func TestClassifySample_RTTOfflineUpgrade(t *testing.T) {
	tr := config.Triggers{RTT: intPtr(100), RTTOffline: intPtr(300)}
	h := streamserver.StreamHealth{Kind: streamserver.Online, BitrateKbps: 3000, RTTMs: 350, HasRTT: true}
	if got := classifySample(h, tr); got != SwitchOffline {
		t.Fatalf("expected SwitchOffline via rtt_offline upgrade, got %v", got)
	}
}

func TestClassifySample_LowTriggerWinsOverNormalRTT(t *testing.T) {
	low := 800
	tr := config.Triggers{Low: &low, RTT: intPtr(100)}
	h := streamserver.StreamHealth{Kind: streamserver.Online, BitrateKbps: 500, RTTMs: 10, HasRTT: true}
	if got := classifySample(h, tr); got != SwitchLow {
		t.Fatalf("expected SwitchLow, got %v", got)
	}
}

func TestShouldAttempt_LowToRttSameSeverityResetsCounter(t *testing.T) {
	cfg := baseConfig()
	cfg.Switcher.RetryAttempts = 3
	rtt := 100
	cfg.Switcher.Triggers.RTT = &rtt

	probe := &fakeProbe{health: online(1000)}
	bsw := &fakeBroadcaster{scenes: []string{"normal", "low", "offline"}, current: "normal", streaming: true}
	sw := newTestSwitcher(cfg, map[string]*fakeProbe{"main": probe}, bsw)

	sw.state.SetLowRetryCount(2)
	attempt, instant := sw.shouldAttempt(cfg, SwitchLow, SwitchRtt)
	if attempt || instant {
		t.Fatalf("expected no attempt on a same-severity Low->Rtt flap, got attempt=%v instant=%v", attempt, instant)
	}
	if got := sw.state.Switcher().LowRetryCount; got != 0 {
		t.Fatalf("expected retry count reset to 0, got %d", got)
	}
}
