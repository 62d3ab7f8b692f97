package module

// ---------------------------------------------------------------------------
// Response
// ---------------------------------------------------------------------------

// Metadata keys the dispatcher guarantees on every returned Response.
const (
	MetaModuleID        = "moduleId"
	MetaModuleName      = "moduleName"
	MetaConfidence      = "confidence"
	MetaIsFallback      = "isFallback"
	MetaPreferredModule = "preferredModule"

	// Present only on fallback paths.
	MetaOriginalConfidence = "originalConfidence"
	MetaOriginalModule     = "originalModule"
	MetaOriginalError      = "originalError"
)

// Reserved dispatch error codes.
const (
	ErrCodeNoMatchingModule = "NO_MATCHING_MODULE"
	ErrCodeProcessingError  = "PROCESSING_ERROR"

	// "Could not handle" taxonomy: a module reporting one of these invites
	// a one-shot fallback attempt.
	ErrCodeNotSupported         = "NOT_SUPPORTED"
	ErrCodeInvalidCommand       = "INVALID_COMMAND"
	ErrCodeUnknownCommand       = "UNKNOWN_COMMAND"
	ErrCodeCannotHandle         = "CANNOT_HANDLE"
	ErrCodeNotUnderstood        = "NOT_UNDERSTOOD"
	ErrCodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
)

// Response is the result of handling one command. Modules create it; the
// dispatcher mutates only the Metadata map before returning it.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	// Data is an optional structured payload.
	Data map[string]interface{} `json:"data,omitempty"`

	// ErrorCode is set on failures; reserved codes above have dispatch
	// semantics, anything else is module-domain specific.
	ErrorCode string `json:"error_code,omitempty"`

	// Metadata is annotated by the dispatcher with selection details.
	Metadata map[string]interface{} `json:"metadata"`

	// Suggestions are follow-up actions offered to the user.
	Suggestions []string `json:"suggestions,omitempty"`

	// RequiresFollowUp marks that the module posed a question and expects
	// the user's next input as the answer (see FollowUpStore).
	RequiresFollowUp bool   `json:"requires_follow_up,omitempty"`
	FollowUpPrompt   string `json:"follow_up_prompt,omitempty"`
}

// OK builds a successful response with a message.
func OK(message string) *Response {
	return &Response{
		Success:  true,
		Message:  message,
		Metadata: map[string]interface{}{},
	}
}

// Fail builds a failed response with a message and error code.
func Fail(message, code string) *Response {
	return &Response{
		Success:   false,
		Message:   message,
		ErrorCode: code,
		Metadata:  map[string]interface{}{},
	}
}

// SetMeta sets one metadata entry, allocating the map if the module left
// it nil.
func (r *Response) SetMeta(key string, value interface{}) {
	if r.Metadata == nil {
		r.Metadata = map[string]interface{}{}
	}
	r.Metadata[key] = value
}

// WithData attaches a structured payload.
func (r *Response) WithData(data map[string]interface{}) *Response {
	r.Data = data
	return r
}

// WithSuggestions attaches follow-up action suggestions.
func (r *Response) WithSuggestions(suggestions ...string) *Response {
	r.Suggestions = suggestions
	return r
}

// AskFollowUp marks the response as awaiting the user's answer.
func (r *Response) AskFollowUp(prompt string) *Response {
	r.RequiresFollowUp = true
	r.FollowUpPrompt = prompt
	return r
}
