package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

const docBase = "https://vango.dev/docs/localstore/errors/"

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Runtime Errors (E001-E019)
	// ============================================

	"E001": {
		Category: CategoryRuntime,
		Message:  "Storage unavailable",
		Detail:   "No persistent store is attached. Reads return the default value and writes only update the cache.",
		DocURL:   docBase + "E001",
	},
	"E002": {
		Category: CategoryRuntime,
		Message:  "Stored value is not valid JSON",
		Detail:   "The raw value for the key could not be decoded. The default value is used instead.",
		DocURL:   docBase + "E002",
	},
	"E003": {
		Category: CategoryRuntime,
		Message:  "Stored value failed validation",
		Detail:   "The validator rejected the decoded value. The default value is used instead.",
		DocURL:   docBase + "E003",
	},
	"E004": {
		Category: CategoryRuntime,
		Message:  "Storage read failed",
		Detail:   "The backend returned an error while reading. The key is treated as absent.",
		DocURL:   docBase + "E004",
	},
	"E010": {
		Category: CategoryRuntime,
		Message:  "Reactive binding outside owner scope",
		Detail:   "Use needs a live reactive.Owner so the watch can be released when the owner is disposed.",
		DocURL:   docBase + "E010",
	},

	// ============================================
	// Storage Errors (E020-E039)
	// ============================================

	"E020": {
		Category: CategoryStorage,
		Message:  "Value could not be encoded",
		Detail:   "The value has no JSON representation (channels, functions, cyclic data).",
		DocURL:   docBase + "E020",
	},
	"E021": {
		Category: CategoryStorage,
		Message:  "Storage write failed",
		Detail:   "The backend rejected the write. The cache and watchers were left unchanged.",
		DocURL:   docBase + "E021",
	},
	"E022": {
		Category: CategoryStorage,
		Message:  "Storage remove failed",
		Detail:   "The backend rejected the delete. The cache and watchers were left unchanged.",
		DocURL:   docBase + "E022",
	},

	// ============================================
	// Protocol Errors (E060-E079)
	// ============================================

	"E060": {
		Category: CategoryProtocol,
		Message:  "Relay connection failed",
		Detail:   "Could not establish a WebSocket connection to the change relay.",
		DocURL:   docBase + "E060",
	},
	"E061": {
		Category: CategoryProtocol,
		Message:  "Invalid relay message",
		Detail:   "A message received from the relay could not be decoded.",
		DocURL:   docBase + "E061",
	},

	// ============================================
	// Backend Errors (E080-E099)
	// ============================================

	"E080": {
		Category: CategoryStorage,
		Message:  "Backend unavailable",
		Detail:   "The configured storage backend could not be opened.",
		DocURL:   docBase + "E080",
	},

	// ============================================
	// Config Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryConfig,
		Message:  "Invalid localstore.json",
		Detail:   "The configuration file could not be read or parsed.",
		DocURL:   docBase + "E120",
	},
	"E121": {
		Category: CategoryConfig,
		Message:  "Unknown storage backend",
		Detail:   "The backend must be one of memory, sql, redis, nats or s3.",
		DocURL:   docBase + "E121",
	},
	"E122": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A configuration value is out of range or missing.",
		DocURL:   docBase + "E122",
	},

	// ============================================
	// CLI Errors (E140-E159)
	// ============================================

	"E140": {
		Category: CategoryCLI,
		Message:  "Invalid JSON argument",
		Detail:   "Values passed on the command line must be valid JSON. Quote strings: '\"dark\"'.",
		DocURL:   docBase + "E140",
	},
	"E141": {
		Category: CategoryCLI,
		Message:  "Config file not found",
		Detail:   "No localstore.json was found at the given path.",
		DocURL:   docBase + "E141",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
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
