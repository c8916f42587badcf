package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

const docBase = "https://hotreload.vango.dev/docs/errors/"

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Setup Errors (E100-E109)
	// ============================================

	"E100": {
		Category: CategorySetup,
		Message:  "Root path cannot be opened",
		Detail:   "The watcher needs a readable directory to walk. The path does not exist, is not a directory, or permissions deny access.",
		DocURL:   docBase + "E100",
	},
	"E101": {
		Category: CategorySetup,
		Message:  "File system watch could not be registered",
		Detail:   "The operating system refused to create a watch. On Linux this usually means fs.inotify.max_user_watches or max_user_instances is exhausted.",
		DocURL:   docBase + "E101",
	},
	"E102": {
		Category: CategorySetup,
		Message:  "File system notifications are not available",
		Detail:   "This platform does not support kernel change notifications. Use the scan strategy instead.",
		DocURL:   docBase + "E102",
	},

	// ============================================
	// Scan Errors (E110-E119)
	// ============================================

	"E110": {
		Category: CategoryScan,
		Message:  "Identity table is full",
		Detail:   "The tree holds more matching files than maxTracked allows. Files beyond the limit are not tracked.",
		DocURL:   docBase + "E110",
	},
	"E111": {
		Category: CategoryScan,
		Message:  "Directory could not be listed",
		Detail:   "A directory or entry below the root could not be read during a scan. Files already tracked under it are kept until it can be read again.",
		DocURL:   docBase + "E111",
	},

	// ============================================
	// Config Errors (E120-E149)
	// ============================================

	"E120": {
		Category: CategoryConfig,
		Message:  "Configuration could not be read",
		DocURL:   docBase + "E120",
	},
	"E121": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		DocURL:   docBase + "E121",
	},
	"E141": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		DocURL:   docBase + "E141",
	},

	// ============================================
	// Reload Errors (E200-E219)
	// ============================================

	"E200": {
		Category: CategoryReload,
		Message:  "Reload trigger failed",
		Detail:   "The reload collaborator reported an error. The watcher does not retry; the next detected change triggers a new attempt.",
		DocURL:   docBase + "E200",
	},
	"E201": {
		Category: CategoryReload,
		Message:  "Reload signal is not supported on this platform",
		DocURL:   docBase + "E201",
	},
	"E202": {
		Category: CategoryReload,
		Message:  "Worker process failed to start",
		DocURL:   docBase + "E202",
	},
}

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
