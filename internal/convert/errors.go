package convert

import "errors"

// ErrNotConvertible is logged when no converter can produce the target type.
var ErrNotConvertible = errors.New("convert: no applicable converter")
