package pipeline

import (
	"voxloop-server-go/internal/domain/eventbus"
)

func (s *Session) publish(topic string, data interface{}) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(topic, data)
	}
}

func (s *Session) publishError(stage string, err error, fatal bool) {
	s.logWarn("[PIPELINE] %s error: %v", stage, err)
	s.publish(eventbus.TopicPipelineError, eventbus.PipelineError{
		SessionID: s.id,
		Stage:     stage,
		Message:   err.Error(),
		Fatal:     fatal,
	})
}

func (s *Session) logDebug(msg string, args ...interface{}) {
	if s.deps.Logger != nil {
		s.deps.Logger.Debug(msg, args...)
	}
}

func (s *Session) logInfo(msg string, args ...interface{}) {
	if s.deps.Logger != nil {
		s.deps.Logger.Info(msg, args...)
	}
}

func (s *Session) logWarn(msg string, args ...interface{}) {
	if s.deps.Logger != nil {
		s.deps.Logger.Warn(msg, args...)
	}
}
