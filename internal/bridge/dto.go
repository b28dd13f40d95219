package bridge

// Response is the envelope every bridge endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func NewSuccessResponse(data interface{}) Response {
	return Response{Success: true, Data: data}
}

func NewErrorResponse(message, code string) Response {
	return Response{Success: false, Error: &ErrorBody{Message: message, Code: code}}
}
