package iosxr

import (
	"regexp"
	"strings"
)

// mgmtInterface XRv 64-bit 的第一个管理口，NAT 下由 DHCP 拿地址
const mgmtInterface = "MgmtEth0/RP0/CPU0/0"

var ipv4Re = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)

// hasPackage 判断 rpm 查询输出里是否真有带标记的包。
// 回显里总会出现 grep 命令本身那一行，必须剔除后再找。
func hasPackage(output, marker string) bool {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "grep") {
			continue
		}
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// parseMgmtIP 从接口简表输出里取管理口那一行的 IPv4 地址
func parseMgmtIP(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, mgmtInterface) {
			continue
		}
		if m := ipv4Re.FindString(line); m != "" {
			return m
		}
	}
	// 没按行对上时退化成全文第一个地址
	return ipv4Re.FindString(output)
}
