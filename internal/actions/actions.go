// Package actions assembles every concrete action into a registry.
package actions

import (
	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/agenda"
	"github.com/roach88/plenum/internal/actions/assignment"
	"github.com/roach88/plenum/internal/actions/chat"
	"github.com/roach88/plenum/internal/actions/mediafile"
	"github.com/roach88/plenum/internal/actions/meeting"
	"github.com/roach88/plenum/internal/actions/motion"
	"github.com/roach88/plenum/internal/actions/speaker"
	"github.com/roach88/plenum/internal/actions/topic"
	"github.com/roach88/plenum/internal/actions/user"
	"github.com/roach88/plenum/internal/media"
)

// All returns every action. Mediafile uploads and forwarded attachments use
// svc.
func All(svc media.Service) []*action.Action {
	var out []*action.Action
	out = append(out, agenda.Actions(svc)...)
	out = append(out, topic.Actions()...)
	out = append(out, motion.Actions()...)
	out = append(out, speaker.Actions()...)
	out = append(out, assignment.Actions()...)
	out = append(out, chat.Actions()...)
	out = append(out, mediafile.Actions(svc)...)
	out = append(out, user.Actions()...)
	out = append(out, meeting.Actions()...)
	return out
}

// NewRegistry returns a registry holding All(svc).
func NewRegistry(svc media.Service) *action.Registry {
	r := action.NewRegistry()
	r.Register(All(svc)...)
	return r
}
