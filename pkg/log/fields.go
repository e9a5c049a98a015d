package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Service
	FieldService = "service"

	// Lookup
	FieldResultSetID    = "result_set_id"
	FieldResultSetCount = "result_set_count"
	FieldGeneCount      = "gene_count"
	FieldProbeID        = "probe_id"
	FieldProbeCount     = "probe_count"
	FieldBatch          = "batch"
	FieldCacheHits      = "cache_hits"
	FieldQuery          = "query"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
