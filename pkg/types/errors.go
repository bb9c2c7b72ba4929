package types

import "errors"

var (
	ErrInvalidUserID  = errors.New("user ID must be a positive integer")
	ErrInvalidCommand = errors.New("unknown command")
	ErrTextTooLong    = errors.New("text exceeds 4096 characters")
	ErrCaptionTooLong = errors.New("caption exceeds 1024 characters")
	ErrRefTooLong     = errors.New("attachment reference exceeds 512 bytes")
)
