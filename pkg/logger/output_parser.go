package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputLines 表示一段控制台输出的头部和尾部行
type OutputLines struct {
	HeadLines []string `json:"head_lines"`
	TailLines []string `json:"tail_lines"`
}

// ParseOutputLines 从控制台输出中提取头部和尾部各 maxLines 行，
// 用于在日志里压缩大段的串口回显
func ParseOutputLines(output string, maxLines int) OutputLines {
	if maxLines <= 0 {
		maxLines = 5
	}

	// 统一换行符
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")
	lines := strings.Split(strings.Trim(output, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return OutputLines{}
	}

	total := len(lines)
	headCount := maxLines
	if headCount > total {
		headCount = total
	}
	head := make([]string, headCount)
	copy(head, lines[:headCount])

	// 总行数不超过 maxLines 时尾部与头部一致
	if total <= maxLines {
		tail := make([]string, len(head))
		copy(tail, head)
		return OutputLines{HeadLines: head, TailLines: tail}
	}

	tail := make([]string, maxLines)
	copy(tail, lines[total-maxLines:])
	return OutputLines{HeadLines: head, TailLines: tail}
}

// SummarizeOutput 把控制台输出压成一行，保留头尾各 maxLines 行
func SummarizeOutput(output string, maxLines int) string {
	lines := ParseOutputLines(output, maxLines)
	if len(lines.HeadLines) == 0 {
		return "(no output)"
	}
	if slicesEqual(lines.HeadLines, lines.TailLines) {
		return strings.Join(lines.HeadLines, " / ")
	}
	return strings.Join(lines.HeadLines, " / ") + " ... " + strings.Join(lines.TailLines, " / ")
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DebugCommandOutput 在debug级别记录命令输出的head/tail行
func DebugCommandOutput(command string, output string, maxLines int) {
	if GetLogger().Level < logrus.DebugLevel {
		return
	}
	summary := SummarizeOutput(output, maxLines)
	Debugf("Command echo [%s]: %s", command, summary)
}
