package authorizer

// Config is a configuration for the authorizer application.
type Config struct {
	HTTPAddr string
	// CardValidityYears is stamped onto issued cards as a YYMM expiry.
	CardValidityYears int
	// CardLength is the total PAN length including the check digit.
	CardLength int
	// RepoBackend selects the repository backend: "mem" or "pg".
	RepoBackend string
	// DBDSN is the Postgres DSN, required for the pg backend.
	DBDSN string
	// PANHashKey peppers the PAN hashes stored by the pg backend.
	PANHashKey string
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:          "localhost:9090",
		CardValidityYears: 5,
		CardLength:        16,
		RepoBackend:       "mem",
	}
}
