package redis

const (
	// KeyPrefixLicense is the prefix for license record hashes
	KeyPrefixLicense = "licensed:license:"

	fieldDocument = "document"
	fieldRevision = "revision"
)

// LicenseKey returns the Redis key for a license or machine record
func LicenseKey(id string) string {
	return KeyPrefixLicense + id
}
