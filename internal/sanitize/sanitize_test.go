package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscape(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", Escape("<b>hi</b>"))
	assert.Equal(t, "Tom &amp; Jerry", Escape("Tom & Jerry"))
	assert.Equal(t, "&quot;quoted&quot;", Escape(`"quoted"`))
	assert.Equal(t, "it&#39;s", Escape("it's"))
	assert.Equal(t, "plain", Escape("plain"))
}

func TestEscapeRunsExactlyOnce(t *testing.T) {
	once := Escape("<script>")
	require.Equal(t, "&lt;script&gt;", once)

	// Escaping escaped text double-encodes the ampersands the first
	// pass introduced; callers must escape exactly once.
	assert.Equal(t, "&amp;lt;script&amp;gt;", Escape(once))
}

func TestCensorWholeWord(t *testing.T) {
	got, changed := Censor("this is spam", []string{"spam"})
	require.True(t, changed)
	assert.Equal(t, "this is ****", got)
}

func TestCensorCaseInsensitive(t *testing.T) {
	got, changed := Censor("SPAM and Spam and spam", []string{"spam"})
	require.True(t, changed)
	assert.Equal(t, "**** and **** and ****", got)
}

func TestCensorLeavesSubstringsAlone(t *testing.T) {
	got, changed := Censor("the class is full", []string{"ass"})
	assert.False(t, changed)
	assert.Equal(t, "the class is full", got)
}

func TestCensorMultipleWords(t *testing.T) {
	got, changed := Censor("spam and eggs", []string{"spam", "eggs"})
	require.True(t, changed)
	assert.Equal(t, "**** and ****", got)
}

func TestCensorNoWords(t *testing.T) {
	got, changed := Censor("anything goes", nil)
	assert.False(t, changed)
	assert.Equal(t, "anything goes", got)
}

func TestCensorMaskIsFixedLength(t *testing.T) {
	got, changed := Censor("extraordinarily", []string{"extraordinarily"})
	require.True(t, changed)
	assert.Equal(t, Mask, got)
}
