package epoch

import "errors"

// ErrCorrupt is wrapped by Decode when the header is not exactly HeaderSize
// bytes. Callers compare with errors.Is.
var ErrCorrupt = errors.New("corrupt epoch header")
