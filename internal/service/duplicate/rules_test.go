package duplicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgermodel "neoledger/internal/model/ledger"
)

func vmNormalized(machineUUID, hostname string, macs, ips []string) map[string]interface{} {
	identity := map[string]interface{}{}
	if machineUUID != "" {
		identity["machine_uuid"] = machineUUID
	}
	if hostname != "" {
		identity["hostname"] = hostname
	}
	network := map[string]interface{}{}
	if macs != nil {
		list := make([]interface{}, len(macs))
		for i, mac := range macs {
			list[i] = mac
		}
		network["mac_addresses"] = list
	}
	if ips != nil {
		list := make([]interface{}, len(ips))
		for i, ip := range ips {
			list[i] = ip
		}
		network["ip_addresses"] = list
	}
	return map[string]interface{}{"identity": identity, "network": network}
}

func hostNormalized(serial, bmcIP, mgmtIP string) map[string]interface{} {
	identity := map[string]interface{}{}
	if serial != "" {
		identity["serial_number"] = serial
	}
	network := map[string]interface{}{}
	if bmcIP != "" {
		network["bmc_ip"] = bmcIP
	}
	if mgmtIP != "" {
		network["management_ip"] = mgmtIP
	}
	return map[string]interface{}{"identity": identity, "network": network}
}

func TestCalculateDupScore_MachineUUIDMatch(t *testing.T) {
	// 大小写与连字符差异不影响判定
	a := vmNormalized("420C9A1E-11D2-4B6F-9D7A-000000000001", "", nil, nil)
	b := vmNormalized("420c9a1e11d24b6f9d7a000000000001", "", nil, nil)

	score, matched := CalculateDupScore(ledgermodel.AssetTypeVM, a, b)
	assert.Equal(t, 100, score)
	require.Len(t, matched, 1)
	assert.Equal(t, "vm.machine_uuid_match", matched[0].Rule)
	assert.Equal(t, 100, matched[0].Weight)
}

func TestCalculateDupScore_MACOverlap(t *testing.T) {
	a := vmNormalized("", "", []string{"00:50:56:AA:BB:CC", "00:50:56:11:22:33"}, nil)
	b := vmNormalized("", "", []string{"00-50-56-aa-bb-cc"}, nil)

	score, matched := CalculateDupScore(ledgermodel.AssetTypeVM, a, b)
	assert.Equal(t, 90, score)
	require.Len(t, matched, 1)
	assert.Equal(t, "vm.mac_overlap", matched[0].Rule)
	assert.Equal(t, []string{"00:50:56:AA:BB:CC"}, matched[0].Values)
}

func TestCalculateDupScore_HostnameIPOverlap(t *testing.T) {
	a := vmNormalized("", "Web01.Lab.Local", nil, []string{"10.0.0.15", "10.0.0.16"})
	b := vmNormalized("", "web01.lab.local", nil, []string{"10.0.0.15"})

	score, matched := CalculateDupScore(ledgermodel.AssetTypeVM, a, b)
	assert.Equal(t, 70, score)
	require.Len(t, matched, 1)
	assert.Equal(t, "vm.hostname_ip_overlap", matched[0].Rule)
}

func TestCalculateDupScore_HostnameWithoutIPOverlapNoHit(t *testing.T) {
	a := vmNormalized("", "web01", nil, []string{"10.0.0.15"})
	b := vmNormalized("", "web01", nil, []string{"10.0.0.99"})

	score, matched := CalculateDupScore(ledgermodel.AssetTypeVM, a, b)
	assert.Zero(t, score)
	assert.Empty(t, matched)
}

func TestCalculateDupScore_HostRules(t *testing.T) {
	a := hostNormalized("czj1234abc", "", "")
	b := hostNormalized("CZJ1234ABC", "", "")
	score, _ := CalculateDupScore(ledgermodel.AssetTypeHost, a, b)
	assert.Equal(t, 100, score)

	a = hostNormalized("", "192.168.1.100", "")
	b = hostNormalized("", "192.168.1.100", "")
	score, _ = CalculateDupScore(ledgermodel.AssetTypeHost, a, b)
	assert.Equal(t, 90, score)

	a = hostNormalized("", "", "10.10.0.5")
	b = hostNormalized("", "", "10.10.0.5")
	score, _ = CalculateDupScore(ledgermodel.AssetTypeHost, a, b)
	assert.Equal(t, 70, score)
}

func TestCalculateDupScore_CapsAtHundred(t *testing.T) {
	a := vmNormalized("uuid-equal", "web01", []string{"00:50:56:aa:bb:cc"}, []string{"10.0.0.15"})
	b := vmNormalized("uuid-equal", "web01", []string{"00:50:56:aa:bb:cc"}, []string{"10.0.0.15"})

	score, matched := CalculateDupScore(ledgermodel.AssetTypeVM, a, b)
	assert.Equal(t, 100, score)
	assert.Len(t, matched, 3)
}

func TestCalculateDupScore_PlaceholdersNeverMatch(t *testing.T) {
	cases := [][2]map[string]interface{}{
		{hostNormalized("To Be Filled By O.E.M.", "", ""), hostNormalized("To Be Filled By O.E.M.", "", "")},
		{hostNormalized("System Serial Number", "", ""), hostNormalized("System Serial Number", "", "")},
		{hostNormalized("  ", "", ""), hostNormalized("  ", "", "")},
	}
	for _, pair := range cases {
		score, matched := CalculateDupScore(ledgermodel.AssetTypeHost, pair[0], pair[1])
		assert.Zero(t, score)
		assert.Empty(t, matched)
	}

	a := vmNormalized("00000000-0000-0000-0000-000000000000", "", []string{"00:00:00:00:00:00"}, nil)
	b := vmNormalized("00000000-0000-0000-0000-000000000000", "", []string{"00-00-00-00-00-00"}, nil)
	score, matched := CalculateDupScore(ledgermodel.AssetTypeVM, a, b)
	assert.Zero(t, score)
	assert.Empty(t, matched)
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, isPlaceholder("N/A"))
	assert.True(t, isPlaceholder("ff:ff:ff:ff:ff:ff"))
	assert.True(t, isPlaceholder("FF-FF-FF-FF-FF-FF"))
	assert.True(t, isPlaceholder(""))
	assert.False(t, isPlaceholder("CZJ1234ABC"))
	assert.False(t, isPlaceholder("420c9a1e-11d2-4b6f-9d7a-000000000001"))
}
