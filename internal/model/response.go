package model

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the
// API. Detail is populated only in development mode; production responses
// carry the generic message alone.
type ErrorDetail struct {
	Code       int         `json:"code"`
	Kind       FailureKind `json:"kind,omitempty"`
	Message    string      `json:"message"`
	RetryAfter int         `json:"retry_after,omitempty"` // seconds, rate-limit responses only
	Detail     string      `json:"detail,omitempty"`
}

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Resource []map[string]interface{} `json:"resource"`
	Meta     *ResponseMeta            `json:"meta,omitempty"`
}

// ResponseMeta carries count information for list responses.
type ResponseMeta struct {
	Count int `json:"count"`
}
