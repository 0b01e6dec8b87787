// Package xerrors extends Go's stdlib errors pkg.
package xerrors

import "errors"

// Tag marks err as being of the kind represented by the tag error, without changing its message.
// errors.Is(tagged, tag) and errors.Is(tagged, err) are both true, same goes for errors.As,
// which tries the tag first and then the original error.
//
// Use it instead of wrapping when the tag message would only add noise, like tagging a
// connection reset error as an aborted response stream: the log shows the reset error,
// the code can still check for the abort.
//
// Tagging a nil error returns nil.
func Tag(err, tag error) error {
	if err == nil {
		return nil
	}
	return tagged{err, tag}
}

type tagged struct {
	err error
	tag error
}

func (t tagged) Is(target error) bool {
	if errors.Is(t.tag, target) {
		return true
	}
	return errors.Is(t.err, target)
}

func (t tagged) As(target any) bool {
	if errors.As(t.tag, target) {
		return true
	}
	return errors.As(t.err, target)
}

func (t tagged) Unwrap() error {
	return t.err
}

func (t tagged) Error() string {
	return t.err.Error()
}
