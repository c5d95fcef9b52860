package roster

import (
	"errors"
	"fmt"
)

// ErrNotFound は指定したレコードが存在しないことを表します。
var ErrNotFound = errors.New("not found")

// Error はクライアントへ返せるコード付きのエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidInput(message string) error {
	return &Error{Code: "INVALID_INPUT", Message: message}
}
