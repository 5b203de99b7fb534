package api

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type KeyValueDTO struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type KeysDTO struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

type HealthDTO struct {
	Status  string   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeKeyNotFound       = "key_not_found"
	CodeInvalidJSON       = "invalid_json"
	CodeUnserializable    = "unserializable_value"
	CodeReservedKey       = "reserved_key"
	CodeBodyTooLarge      = "body_too_large"
	CodeMappingClosed     = "mapping_closed"
	CodeWriteFailed       = "write_failed"
	CodeFlushFailed       = "flush_failed"
	CodeNotSupported      = "not_supported"
	CodeRemoteUnavailable = "remote_unavailable"
)
