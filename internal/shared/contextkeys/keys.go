package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "gridfs-store context key " + string(c)
}

const (
	// RequestIDKey carries the X-Request-ID assigned by the HTTP middleware.
	RequestIDKey = contextKey("requestID")
	// UserIDKey carries the subject of a validated bearer token.
	UserIDKey = contextKey("userID")
	// ClaimsKey carries the full token claims.
	ClaimsKey = contextKey("claims")
	// BucketKey carries the GridFS prefix the request operates on.
	BucketKey = contextKey("bucket")
	// ComponentKey and OperationKey are used for log enrichment.
	ComponentKey = contextKey("component")
	OperationKey = contextKey("operation")
)
