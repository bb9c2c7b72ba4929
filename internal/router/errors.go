package router

import "errors"

var ErrInvalidLimits = errors.New("message rate limits are invalid")
