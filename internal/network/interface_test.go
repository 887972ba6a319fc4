package network

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoopbackResolvesToIPv4(t *testing.T) {
	name, err := LoopbackInterface()
	if err != nil {
		t.Skipf("no loopback interface on this host: %v", err)
	}
	require.True(t, strings.HasPrefix(name, "lo"))

	ip, err := CurrentIP("lo")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ip, "127."), "loopback ip should be 127.x, got %s", ip)
}

func TestInterfaceIPUnknownInterface(t *testing.T) {
	_, err := InterfaceIP("definitely-not-an-interface")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a valid network interface")
}

func TestParseAddrForms(t *testing.T) {
	require.Equal(t, "127.0.0.1", parseAddr("127.0.0.1/8").String())
	require.Equal(t, "10.0.0.5", parseAddr("10.0.0.5").String())
	require.Nil(t, parseAddr("not-an-address"))
}
