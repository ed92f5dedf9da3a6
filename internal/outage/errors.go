package outage

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch marks a failed fetch. Nothing is persisted for the run.
	ErrFetch = errors.New("fetch failed")
	// ErrMalformedContent is an empty or unparseable fetch result.
	ErrMalformedContent = fmt.Errorf("%w: malformed content", ErrFetch)
	// ErrPersistence aborts a run before any notification is sent.
	ErrPersistence = errors.New("persistence failed")
	// ErrSend is a per-subscriber delivery failure.
	ErrSend = errors.New("send failed")
	// ErrTargetInvalid means the delivery target is permanently gone
	// (for example the bot was blocked) and should be removed.
	ErrTargetInvalid = fmt.Errorf("%w: delivery target invalid", ErrSend)
	// ErrNothingToSend is returned by the composer when a change added no paragraphs.
	ErrNothingToSend = errors.New("nothing to send")
	// ErrCorruptSnapshot is a stored row whose hash does not match its content.
	ErrCorruptSnapshot = errors.New("snapshot hash mismatch")
)

// TargetInvalid wraps err so that errors.Is(result, ErrTargetInvalid) holds
// while the transport's own error stays reachable through errors.Is/As.
func TargetInvalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTargetInvalid, err)
}

// SendFailure wraps a transient transport error as ErrSend.
func SendFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSend) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSend, err)
}
