package ctxkey

const (
	// RequestId is the per-request unique identifier.
	// Set in: middleware/RequestId. Read by controllers for logging and api_logs.
	// The literal value matches the response header name.
	RequestId = "X-Polygate-Request-Id"

	// APIKeyId is the database id of the authenticated API key.
	// Set in: middleware/Auth. Read by controllers for request accounting.
	APIKeyId = "api_key_id"

	// APIKeyName is the operator-assigned label of the authenticated API key.
	APIKeyName = "api_key_name"

	// Vendor is the resolved upstream vendor for the current request.
	// Set in: middleware/Distributor from path prefix and model.
	Vendor = "vendor"

	// RelayMode is the resolved endpoint family (see relay/relaymode).
	RelayMode = "relay_mode"

	// RequestModel is the model name as the client sent it.
	RequestModel = "request_model"

	// MappedModel is the model name after vendor alias resolution.
	MappedModel = "mapped_model"

	// KeyRequestBody caches the raw request body for reuse across handlers.
	KeyRequestBody = "key_request_body"

	// ClientRequestPayloadLogged marks the inbound payload as already logged
	// so it is emitted at most once per request.
	ClientRequestPayloadLogged = "client_request_payload_logged"
)
