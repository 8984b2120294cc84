package httpdto

// Response is the JSON envelope of every plain HTTP reply of the hub.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

// Health is the body of GET /health.
type Health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Presence    string `json:"presence"`
}
