package constants

// Default server configuration values
const (
	DefaultServerPort            = 3344
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
)

// Default listing configuration values
const (
	DefaultListPage  = 1
	DefaultListLimit = 10
	MinListLimit     = 1
	MaxListLimit     = 100
)

// Default timeout values
const (
	DefaultWebhookTimeoutSec     = 5
	DefaultWhatsAppTimeoutSec    = 30
	DefaultStatusPollIntervalSec = 2
	DefaultDatabaseRetryAttempts = 3
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxMs          = 60000
)

// Input validation bounds
const (
	MinPhoneNumberLength = 7
	MaxPhoneNumberLength = 20
	MaxMessageLength     = 65536
	MaxWebhookURLLength  = 2048
	MaxHTTPRequestBytes  = 1 << 20
)

// QR rendering defaults
const (
	DefaultQRImageSize = 256
)

// Event hub settings
const (
	EventBufferSize = 64
)

// Encryption settings
const (
	EncryptionSalt       = "wamux-webhook-salt-v1"
	EncryptionIterations = 100000
	EncryptionKeySize    = 32
	EncryptionNonceSize  = 12
)
