package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOutputLinesShortOutput(t *testing.T) {
	lines := ParseOutputLines("one\r\ntwo\r\n", 5)
	assert.Equal(t, []string{"one", "two"}, lines.HeadLines)
	assert.Equal(t, []string{"one", "two"}, lines.TailLines)
}

func TestParseOutputLinesLongOutput(t *testing.T) {
	out := "l1\nl2\nl3\nl4\nl5\nl6\nl7"
	lines := ParseOutputLines(out, 2)
	assert.Equal(t, []string{"l1", "l2"}, lines.HeadLines)
	assert.Equal(t, []string{"l6", "l7"}, lines.TailLines)
}

func TestParseOutputLinesEmpty(t *testing.T) {
	lines := ParseOutputLines("", 5)
	assert.Empty(t, lines.HeadLines)
	assert.Empty(t, lines.TailLines)
}

func TestSummarizeOutput(t *testing.T) {
	assert.Equal(t, "(no output)", SummarizeOutput("", 5))
	assert.Equal(t, "a / b", SummarizeOutput("a\nb", 5))
	assert.Equal(t, "l1 ... l3", SummarizeOutput("l1\nl2\nl3", 1))
}
