package browser

// Selector and phrase lists tried in order against an unstable third-party UI.
// The first strategy that yields a usable result wins.

var continuePhrases = []string{"continue", "get started", "start", "continue as guest", "try as guest", "guest", "accept", "ok"}

var registrationPhrases = []string{"create account", "create free account", "sign up"}

var submitRegistrationPhrases = []string{"create account", "sign up", "register"}

var confirmCodePhrases = []string{"confirm", "verify", "submit"}

var codeInputHints = []string{"code", "otp", "verification", "one-time"}

var addressSelectors = []string{
	"#email",
	"input#mail",
	`input[name="email"]`,
	`input[readonly][value*="@"]`,
	"[data-email]",
	".email-address",
	".mail-address",
	"[class*='email']",
	"[class*='address']",
	"body",
}

var regenerateSelectors = []string{
	`[data-qa="random-button"]`,
	"#click-to-delete",
	"button.change",
}

var regeneratePhrases = []string{"random", "new email", "change", "delete", "refresh"}

var refreshPhrases = []string{"refresh", "reload", "check"}

var inboxRowSelectors = []string{
	"[data-qa='message']",
	".message-list li",
	".inbox-dataList li",
	".mail-item",
	"tr.message",
	"[class*='message']",
	"[class*='mail'] li",
}

var messageBodySelectors = []string{
	".message__body",
	".message-body",
	"#message-body",
	".mail-content",
	"[class*='body']",
	"article",
}
