package metrics

// Process-wide metrics. They live in DefaultRegistry so pools, backends and
// the HTTP API record into them without passing a registry around.

var (
	// ---- Pool metrics ----

	// PoliciesPurchased counts commitments inserted into any pool.
	PoliciesPurchased = DefaultRegistry.Counter("pool.purchases")
	// ClaimsAccepted counts claims that passed every check and were paid.
	ClaimsAccepted = DefaultRegistry.Counter("pool.claims_accepted")
	// ClaimsRejected counts claims refused for any reason.
	ClaimsRejected = DefaultRegistry.Counter("pool.claims_rejected")
	// ClaimsReplayed counts claims refused because the nullifier hash was spent.
	ClaimsReplayed = DefaultRegistry.Counter("pool.claims_replayed")
	// TreeSize tracks the leaf count of the most recently updated pool.
	TreeSize = DefaultRegistry.Gauge("pool.tree_size")
	// PoolsOpen tracks the number of pools the node serves.
	PoolsOpen = DefaultRegistry.Gauge("pool.open")

	// ---- Proof metrics ----

	// ProveTime records proof generation latency in milliseconds.
	ProveTime = DefaultRegistry.Histogram("proof.prove_ms")
	// VerifyTime records proof verification latency in milliseconds.
	VerifyTime = DefaultRegistry.Histogram("proof.verify_ms")
	// ProveFailures counts proving attempts that returned an error.
	ProveFailures = DefaultRegistry.Counter("proof.prove_failures")

	// ---- API metrics ----

	// APIRequests counts HTTP API requests.
	APIRequests = DefaultRegistry.Counter("api.requests")
	// APIErrors counts HTTP API requests answered with a 4xx or 5xx status.
	APIErrors = DefaultRegistry.Counter("api.errors")
	// APILatency records HTTP API latency in milliseconds.
	APILatency = DefaultRegistry.Histogram("api.latency_ms")
)

func init() {
	for name, help := range map[string]string{
		"pool.purchases":       "Commitments inserted into a pool.",
		"pool.claims_accepted": "Claims accepted and paid.",
		"pool.claims_rejected": "Claims rejected.",
		"pool.claims_replayed": "Claims rejected for a spent nullifier hash.",
		"pool.tree_size":       "Leaf count of the last updated pool.",
		"pool.open":            "Pools served by this node.",
		"proof.prove_ms":       "Proof generation latency in milliseconds.",
		"proof.verify_ms":      "Proof verification latency in milliseconds.",
		"proof.prove_failures": "Failed proving attempts.",
		"api.requests":         "HTTP API requests.",
		"api.errors":           "HTTP API requests answered with an error status.",
		"api.latency_ms":       "HTTP API latency in milliseconds.",
	} {
		DefaultRegistry.Describe(name, help)
	}
}
