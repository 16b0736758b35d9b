package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownServices_EmbeddedTableParses(t *testing.T) {
	require.NotEmpty(t, KnownServices)
	s, ok := LookupService("_vxi-11._tcp.local.")
	require.True(t, ok)
	assert.Equal(t, "vxi11", s.Scheme)
	assert.Equal(t, 111, s.DefaultPort)

	_, ok = LookupService("_not-a-real-service._tcp.local.")
	assert.False(t, ok)
}

func TestDeriveAddress(t *testing.T) {
	assert.Equal(t, "TCPIP::10.0.0.5::inst0::INSTR", deriveAddress("a._vxi-11._tcp.local.", "10.0.0.5", 111))
	assert.Equal(t, "TCPIP::10.0.0.5::inst0,1234::INSTR", deriveAddress("a._vxi-11._tcp.local.", "10.0.0.5", 1234))
	assert.Equal(t, "TCPIP::10.0.0.5::hislip0::INSTR", deriveAddress("a._hislip._tcp.local.", "10.0.0.5", 4880))
	assert.Equal(t, "TCPIP::10.0.0.5::5025::SOCKET", deriveAddress("a._scpi-raw._tcp.local.", "10.0.0.5", 5025))
	assert.Equal(t, "TCPIP::10.0.0.5::5024::SOCKET", deriveAddress("a._scpi-telnet._tcp.local.", "10.0.0.5", 5024))
	assert.Equal(t, "", deriveAddress("a._unknown._tcp.local.", "10.0.0.5", 80))
}

func TestParseLXIXML(t *testing.T) {
	doc := `<?xml version="1.0"?>
<LXIDevice xmlns="http://www.lxistandard.org/InstrumentIdentification/1.0">
  <Manufacturer>ACME</Manufacturer>
  <Model>9000</Model>
  <SerialNumber>SN1</SerialNumber>
  <FirmwareRevision>1.2.3</FirmwareRevision>
  <Interface InterfaceType="LXI">
    <InstrumentAddressString>TCPIP::10.0.0.5::inst0::INSTR</InstrumentAddressString>
    <MACAddress>00:11:22:33:44:55</MACAddress>
  </Interface>
</LXIDevice>`
	device, ok := parseLXIXML(doc)
	require.True(t, ok)
	assert.Equal(t, "ACME", device.Manufacturer)
	assert.Equal(t, "9000", device.Model)
	require.Len(t, device.Interfaces, 1)
	assert.Equal(t, "LXI", device.Interfaces[0].Type)
	assert.Equal(t, []string{"TCPIP::10.0.0.5::inst0::INSTR"}, device.Interfaces[0].Addresses)
}

func TestParseLXIHTML_TitleFallback(t *testing.T) {
	device := parseLXIHTML("<html><head><title> My Instrument </title></head></html>")
	assert.Equal(t, "My Instrument", device.Description)

	empty := parseLXIHTML("<html><body>no title here</body></html>")
	assert.Equal(t, LXIDevice{}, empty)
}

func TestParseLXIXML_RejectsNonLXIDevice(t *testing.T) {
	_, ok := parseLXIXML("<html><body>not xml-ish enough</body></html>")
	assert.False(t, ok)
}

func TestSubnetHosts_ExcludesNetworkAndBroadcast(t *testing.T) {
	hosts, err := subnetHosts([]string{"192.168.1.0/30"})
	require.NoError(t, err)
	// /30 has 4 addresses: .0 (network), .1, .2, .3 (broadcast)
	assert.Equal(t, []string{"192.168.1.1", "192.168.1.2"}, hosts)
}

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "00:11:22:33:44:55", normalizeMAC("0:11:22:33:44:55"))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", normalizeMAC("aa-bb-cc-dd-ee-ff"))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 30, 45, 0, time.UTC)
	out, err := FormatTimestamp(ts)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-01 12:30:45", out)
}
