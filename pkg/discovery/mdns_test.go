package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryFrom(t *testing.T) {
	e, ok := entryFrom(&mdns.ServiceEntry{
		Name:       "studio._sketchroom._tcp.local.",
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       8080,
		InfoFields: []string{"path=/ws"},
	})
	require.True(t, ok)
	assert.Equal(t, "studio", e.Instance)
	assert.Equal(t, "192.168.1.20:8080", e.Addr)
	assert.Equal(t, "http://192.168.1.20:8080", e.BaseURL())
	assert.Equal(t, []string{"path=/ws"}, e.Info)

	e, ok = entryFrom(&mdns.ServiceEntry{AddrV6: net.ParseIP("fe80::1"), Port: 9000})
	require.True(t, ok)
	assert.Equal(t, "[fe80::1]:9000", e.Addr)

	_, ok = entryFrom(&mdns.ServiceEntry{AddrV4: net.IPv4(10, 0, 0, 1)})
	assert.False(t, ok, "no port")
	_, ok = entryFrom(&mdns.ServiceEntry{Port: 1})
	assert.False(t, ok, "no address")
	_, ok = entryFrom(nil)
	assert.False(t, ok)
}

func TestPortOf(t *testing.T) {
	p, err := PortOf("localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, p)

	p, err = PortOf(":9000")
	require.NoError(t, err)
	assert.Equal(t, 9000, p)

	for _, bad := range []string{"localhost", ":http", ":0", ":70000"} {
		_, err := PortOf(bad)
		assert.Error(t, err, bad)
	}
}
