package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		text string
		want Type
	}{
		{"Cisco IOS XE Software, Version 17.03.04a", TypeCiscoIOSXE},
		{"Cisco IOS Software, C2900 Software (C2900-UNIVERSALK9-M), Version 15.2(4)M6", TypeCiscoIOS},
		{"Cisco Adaptive Security Appliance Software Version 9.8", TypeCiscoIOSXE},
		{"MikroTik RouterOS 7.11\n[admin@MikroTik] >", TypeMikrotik},
		{"Huawei Versatile Routing Platform Software\nVRP (R) software, Version 8.180", TypeHuawei},
		{"Hostname: edge1\nModel: mx204\nJunos: 21.4R3", TypeJuniper},
		{"$ ", TypeGeneric},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Detect(tt.text), tt.text)
	}
}

func TestFromPromptAndPaging(t *testing.T) {
	assert.Equal(t, TypeMikrotik, FromPrompt("[admin@MikroTik] > "))
	assert.Equal(t, TypeHuawei, FromPrompt("<HUAWEI>"))
	assert.Equal(t, TypeJuniper, FromPrompt("admin@edge1>"))
	assert.Equal(t, TypeGeneric, FromPrompt("R1#"))

	assert.Equal(t, "terminal length 0", PagingCommand(TypeGeneric))
	assert.Equal(t, "terminal length 0", PagingCommand(TypeCiscoIOSXE))
	assert.Equal(t, "screen-length 0 temporary", PagingCommand(TypeHuawei))
	assert.Equal(t, "set cli screen-length 0", PagingCommand(TypeJuniper))
	assert.Empty(t, PagingCommand(TypeMikrotik))
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "R1", Hostname("R1#"))
	assert.Equal(t, "R1", Hostname("R1(config-if)#"))
	assert.Equal(t, "HUAWEI", Hostname("<HUAWEI>"))
	assert.Equal(t, "MikroTik", Hostname("[admin@MikroTik] >"))
	assert.Equal(t, "edge1", Hostname("admin@edge1>"))
}

func TestParseVersion(t *testing.T) {
	facts := ParseVersion(showVersion)
	assert.Equal(t, "17.03.04a", facts["version"])
	assert.Equal(t, "R1", facts["hostname"])
	assert.Equal(t, "CSR1000V", facts["model"])
	assert.Equal(t, "9ABCDEF1234", facts["serial"])

	junos := ParseVersion("Hostname: edge1\nModel: mx204\nJunos: 21.4R3-S1")
	assert.Equal(t, "21.4R3-S1", junos["version"])
	assert.Equal(t, "edge1", junos["hostname"])
	assert.Equal(t, "mx204", junos["model"])

	ros := ParseVersion("                  uptime: 3d2h\n                 version: 7.11 (stable)\n              board-name: hEX S")
	assert.Equal(t, "7.11", ros["version"])
	assert.Equal(t, "3d2h", ros["uptime"])
	assert.Equal(t, "hEX S", ros["model"])

	assert.Empty(t, ParseVersion("nothing useful"))
}
