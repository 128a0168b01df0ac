package replica

import (
	"errors"

	"github.com/QYUbit/replica/pkg/rlog"
	"github.com/QYUbit/replica/pkg/transport"
	"github.com/QYUbit/replica/pkg/wire"
)

type processor func(sender transport.ConnID, r *wire.Reader) error

// router dispatches frames by their leading tag.
type router struct {
	rt         *Runtime
	logger     rlog.Logger
	processors [ReservedTags]processor
	custom     func(tag byte, sender transport.ConnID, r *wire.Reader)
}

// dispatch routes one frame. Errors and panics are logged and the frame is
// dropped, the pump always continues.
func (ro *router) dispatch(sender transport.ConnID, frame []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			ro.logger.Error("frame processor panicked", "error", rec)
			ro.rt.metrics.drop()
		}
	}()
	if err := ro.route(sender, frame); err != nil {
		ro.rt.frameError(ro.logger, err)
	}
}

func (ro *router) route(sender transport.ConnID, frame []byte) error {
	if len(frame) == 0 {
		return &ProtocolError{Err: ErrEmptyFrame}
	}
	tag := frame[0]
	r := wire.NewReader(frame[1:])

	if tag >= ReservedTags {
		if ro.custom == nil {
			ro.logger.Debug("custom frame without handler", "tag", tag)
			return nil
		}
		ro.custom(tag, sender, r)
		return nil
	}

	p := ro.processors[tag]
	if p == nil {
		return &ProtocolError{Tag: tag, Err: ErrNoProcessor}
	}
	err := p(sender, r)
	if err == nil {
		return nil
	}
	var pe *ProtocolError
	var ae *AuthorityError
	if errors.As(err, &pe) || errors.As(err, &ae) {
		return err
	}
	return &ProtocolError{Tag: tag, Err: err}
}
