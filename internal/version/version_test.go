package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	info := Info()
	assert.Contains(t, info, "dialtask dev")
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestUserAgentTruncatesCommit(t *testing.T) {
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() {
		Version, Commit = origVersion, origCommit
	})

	Version = "0.3.0"
	Commit = "0123456789abcdef"

	assert.Equal(t, "dialtask/0.3.0+0123456", UserAgent())
	assert.Contains(t, Info(), "commit: 0123456,")
}

func TestShort(t *testing.T) {
	for in, want := range map[string]string{
		"":         "",
		"abc":      "abc",
		"1234567":  "1234567",
		"12345678": "1234567",
	} {
		assert.Equal(t, want, short(in), in)
	}
}
