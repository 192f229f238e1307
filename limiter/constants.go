package limiter

// Storage types
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Tier names
const (
	TierIdentity = "identity"
	TierGlobal   = "global"
)

// GlobalKey is the single key consumed on the global tier, shared by every caller.
const GlobalKey = "*"
