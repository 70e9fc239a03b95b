package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptsAreEmbeddedAsFunctions(t *testing.T) {
	t.Parallel()

	for _, script := range []Script{
		scriptProbe, scriptAffordances, scriptInvoke, scriptMailboxAddress, scriptMailboxRegen,
		scriptMailboxRefresh, scriptInboxScan, scriptMessageBody, scriptFillRegistration, scriptCodeEntry,
	} {
		assert.NotEmpty(t, script.Name)
		assert.True(t, strings.HasPrefix(script.Source, "("), "script %s", script.Name)
		assert.Contains(t, script.Source, "=>", "script %s", script.Name)
	}
}

func TestInboxScanTagsOnlyRowsWithText(t *testing.T) {
	t.Parallel()

	source := scriptInboxScan.Source
	clear := strings.Index(source, "delete el.dataset.warmpoolRow")
	skip := strings.Index(source, "if (!text) return;")
	tag := strings.Index(source, "el.dataset.warmpoolRow = String(rows.length);")
	push := strings.Index(source, "rows.push(")

	require.NotEqual(t, -1, clear, "stale row tags are cleared")
	require.NotEqual(t, -1, skip, "empty rows are skipped")
	require.NotEqual(t, -1, tag)
	require.NotEqual(t, -1, push)
	assert.Less(t, clear, skip)
	assert.Less(t, skip, tag)
	assert.Less(t, tag, push)
	assert.NotContains(t, source, "rows.length - 1")
	assert.Contains(t, scriptMessageBody.Source, `[data-warmpool-row="`)
}
