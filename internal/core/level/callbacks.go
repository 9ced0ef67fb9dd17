package level

import (
	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/physics"
)

var _ physics.Callbacks = (*Level)(nil)

// Impact runs the touch function of a with b as other, then the touch
// function of b with a as other. Non-solid entities do not touch.
func (l *Level) Impact(a, b *entity.Entity) error {
	l.globals.SetTime(l.time)
	if fn := a.Touch(); fn != 0 && a.Solid() != entity.SolidNot {
		if err := l.vm.Call(fn, a.ID(), b.ID()); err != nil {
			return err
		}
	}
	if fn := b.Touch(); fn != 0 && b.Solid() != entity.SolidNot {
		return l.vm.Call(fn, b.ID(), a.ID())
	}
	return nil
}

func (l *Level) Touch(trigger, e *entity.Entity) error {
	l.globals.SetTime(l.time)
	return l.vm.Call(trigger.Touch(), trigger.ID(), e.ID())
}

func (l *Level) Think(e *entity.Entity, at float32) error {
	l.globals.SetTime(at)
	return l.vm.Call(e.Think(), e.ID(), entity.World)
}

func (l *Level) Blocked(pusher, other *entity.Entity) error {
	fn := pusher.Blocked()
	if fn == 0 {
		return nil
	}
	l.globals.SetTime(l.time)
	return l.vm.Call(fn, pusher.ID(), other.ID())
}

func (l *Level) StartSound(e *entity.Entity, channel int, sample string, volume, attenuation float32) {
	if err := l.Sound(e, channel, sample, volume, attenuation); err != nil {
		l.logger.Warn("physics sound", log.String("sample", sample), log.Error(err))
	}
}
