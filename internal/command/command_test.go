package command

import (
	"net/netip"
	"strings"
	"testing"
)

func assertWords(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("words got=%q want=%q", got, want)
	}
}

func TestBuilders(t *testing.T) {
	assertWords(t, Print("/interface/bridge", nil), "/interface/bridge/print")
	assertWords(t,
		Add("/interface/bridge", Params{"name": "bridge_native", "comment": "lab", "mtu": 1500}),
		"/interface/bridge/add", "=comment=lab", "=mtu=1500", "=name=bridge_native",
	)
	assertWords(t,
		Set("/interface/bridge/settings", Params{"use-ip-firewall": true, "allow-fast-path": false}),
		"/interface/bridge/settings/set", "=allow-fast-path=no", "=use-ip-firewall=yes",
	)
	assertWords(t, Remove("/interface/bridge/", "*1A"), "/interface/bridge/remove", "=.id=*1A")
	assertWords(t, Call("system/reboot", nil), "/system/reboot")
}

func TestSetIDPutsIDFirst(t *testing.T) {
	assertWords(t,
		SetID("/ip/dhcp-server", "*3", Params{"disabled": true, "lease-time": "10m"}),
		"/ip/dhcp-server/set", "=.id=*3", "=disabled=yes", "=lease-time=10m",
	)
}

func TestPrintWhere(t *testing.T) {
	assertWords(t,
		PrintWhere("/interface", Query{
			Where:    map[string]string{"type": "ether", "disabled": "false"},
			Proplist: []string{".id", "name"},
		}),
		"/interface/print", "=.proplist=.id,name", "?disabled=false", "?type=ether",
	)
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"ether1", "ether1"},
		{true, "yes"},
		{false, "no"},
		{42, "42"},
		{int64(-7), "-7"},
		{uint16(8728), "8728"},
		{1.5, "1.5"},
		{[]string{"ether1", "ether2"}, "ether1,ether2"},
		{netip.MustParseAddr("10.0.0.1"), "10.0.0.1"},
	}
	for _, tc := range cases {
		if got := FormatValue(tc.in); got != tc.want {
			t.Fatalf("FormatValue(%#v) got=%q want=%q", tc.in, got, tc.want)
		}
	}
}
