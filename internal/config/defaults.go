package config

// Chunking defaults.
const (
	DefaultChunkSize                = 1000
	DefaultAdaptiveEnabled          = false
	DefaultAdaptiveTargetLatencyMS  = 600.0
	DefaultAdaptiveMinChunkSize     = 200
	DefaultAdaptiveMaxChunkSize     = 2000
	DefaultAdaptiveHysteresisPct    = 0.2
	DefaultAdaptiveCooldownChunks   = 3
	DefaultAdaptiveSmoothingAlpha   = 0.2
	DefaultAdaptiveStepPct          = 0.2
	DefaultAdaptiveInitialChunkSize = 0
	DefaultAdaptiveTokensPerSecond  = 0.0
	DefaultAbortOnError             = false
	DefaultStrictConfig             = false
	DefaultParseCacheBytes          = 4 << 20
)

// Process pool defaults.
const (
	DefaultPoolEnabled        = false
	DefaultPoolMaxWorkers     = 0
	DefaultPoolTarget         = TargetParseValidate
	DefaultPoolTaskTimeoutMS  = 5000
	DefaultPoolJobMaxChars    = 50000
	DefaultPoolStartMethod    = ""
	DefaultPoolRetryOnTimeout = true
	DefaultPoolRetryLimit     = 1
)

// Logging and telemetry defaults.
const (
	DefaultLogLevel        = "info"
	DefaultLogFormat       = LogFormatText
	DefaultOTLPEndpoint    = ""
	DefaultOTLPHeaders     = ""
	DefaultOTLPInsecure    = false
	DefaultPrometheus      = false
	DefaultDiagnosticsAddr = ""
)

// Process pool targets.
const (
	TargetParseValidate = "parse_validate"
	TargetParseOnly     = "parse_only"
	TargetValidateOnly  = "validate_only"
)

// Worker start methods. The empty value resolves to StartMethodInProcess.
const (
	StartMethodInProcess = "inprocess"
	StartMethodExec      = "exec"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)
