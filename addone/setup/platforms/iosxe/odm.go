package iosxe

import "strings"

// odmActions netconf-yang 的 Operational Data Manager 解析器清单
var odmActions = []string{
	"parse.showACL",
	"parse.showBGP",
	"parse.showArchive",
	"parse.showIpRoute",
	"parse.showInterfaces",
	"parse.showEnvironment",
	"parse.showFlowMonitor",
	"parse.showBFDneighbors",
	"parse.showBridgeDomain",
	"parse.showProcessesCPU",
	"parse.showEfpStatistics",
	"parse.showLLDPneighbors",
	"parse.showVirtualService",
	"parse.showIPslaStatistics",
	"parse.showMPLSldpNieghbor",
	"parse.showProcessesMemory",
	"parse.showMemoryStatistics",
	"parse.showPlatformSoftware",
	"parse.showMPLSstaticBinding",
	"parse.showMPLSforwardingTable",
	"parse.showIpOspfDatabaseRouter",
	"parse.showEthernetCFMstatistics",
}

// splitKeyString 把 ssh-rsa 公钥的 base64 体切成定宽片段，
// 前缀与注释不进 key-string
func splitKeyString(pubkey string, width int) []string {
	fields := strings.Fields(pubkey)
	body := pubkey
	if len(fields) >= 2 {
		body = fields[1]
	}
	var chunks []string
	for len(body) > width {
		chunks = append(chunks, body[:width])
		body = body[width:]
	}
	if body != "" {
		chunks = append(chunks, body)
	}
	return chunks
}
