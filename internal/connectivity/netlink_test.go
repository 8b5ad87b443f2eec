package connectivity

import (
	"context"
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func TestLinkWatcherNilSafety(t *testing.T) {
	var w *LinkWatcher
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil watcher should return nil, got: %v", err)
	}
	w.Stop()
	if w.Running() {
		t.Fatal("nil watcher should not report running")
	}
}

func TestLinkWatcherStopUnstarted(t *testing.T) {
	w := NewLinkWatcher(nil, nil)
	w.Stop()
	w.Stop()
	if w.Running() {
		t.Fatal("expected unstarted watcher to report not running")
	}
}

func TestLinkWatcherHandleEvent(t *testing.T) {
	var got []string
	w := NewLinkWatcher(func(action, iface string) { got = append(got, action+":"+iface) }, nil)

	w.handleEvent(netlink.UEvent{Action: netlink.ADD, KObj: "/devices/virtual/net/wlan0", Env: map[string]string{"INTERFACE": "wlan0"}})
	w.handleEvent(netlink.UEvent{Action: netlink.CHANGE, KObj: "/devices/pci0000:00/net/eth0", Env: map[string]string{}})
	w.handleEvent(netlink.UEvent{Action: netlink.ADD, KObj: "/devices/virtual/net/lo", Env: map[string]string{"INTERFACE": "lo"}})

	if len(got) != 2 || got[0] != "add:wlan0" || got[1] != "change:eth0" {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestLinkMatcherSelectsNetSubsystem(t *testing.T) {
	matcher := buildLinkMatcher()

	netEvent := netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "net"}}
	if !matcher.Evaluate(netEvent) {
		t.Fatal("expected net add event to match")
	}
	blockEvent := netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "block"}}
	if matcher.Evaluate(blockEvent) {
		t.Fatal("expected block event to be ignored")
	}
}
