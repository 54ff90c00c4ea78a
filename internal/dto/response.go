package dto

// Response is the uniform result envelope used by every operation.
// Failures carry a human-readable message and no data; nothing is
// allowed to escape a handler in any other shape.
type Response struct {
	IsSuccess bool   `json:"isSuccess"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
}

func Success(message string, data any) Response {
	return Response{IsSuccess: true, Message: message, Data: data}
}

func Failure(message string) Response {
	return Response{IsSuccess: false, Message: message}
}
