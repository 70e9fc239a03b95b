package browser

import (
	"embed"
	"strings"
)

//go:embed scripts/*.js
var scriptFS embed.FS

// Script is a page function definition evaluated with JSON arguments.
type Script struct {
	Name   string
	Source string
}

var (
	scriptProbe            = mustScript("probe")
	scriptAffordances      = mustScript("affordances")
	scriptInvoke           = mustScript("invoke")
	scriptMailboxAddress   = mustScript("mailbox_address")
	scriptMailboxRegen     = mustScript("mailbox_regenerate")
	scriptMailboxRefresh   = mustScript("mailbox_refresh")
	scriptInboxScan        = mustScript("inbox_scan")
	scriptMessageBody      = mustScript("message_body")
	scriptFillRegistration = mustScript("fill_registration")
	scriptCodeEntry        = mustScript("code_entry")
)

func mustScript(name string) Script {
	source, err := scriptFS.ReadFile("scripts/" + name + ".js")
	if err != nil {
		panic(err)
	}
	return Script{Name: name, Source: strings.TrimSpace(string(source))}
}
