// Package permission answers whether the acting user holds a permission in a
// meeting.
//
// Resolution order for permission P in meeting M:
//  1. superadmin: allowed
//  2. organization management level covering P (outside locked meetings)
//  3. manager of M's committee, for committee-scoped P (outside locked meetings)
//  4. a group of the user in M holding P or a permission implying it; a
//     locked-out user keeps only permissions allowed while locked out
//
// Anything else is a MissingPermission.
package permission

import "slices"

// Permission is a flat token namespaced by domain, e.g. "motion.can_manage".
type Permission string

const (
	AgendaItemCanSee         Permission = "agenda_item.can_see"
	AgendaItemCanSeeInternal Permission = "agenda_item.can_see_internal"
	AgendaItemCanManage      Permission = "agenda_item.can_manage"
	AgendaItemCanForward     Permission = "agenda_item.can_forward"

	AssignmentCanSee           Permission = "assignment.can_see"
	AssignmentCanManage        Permission = "assignment.can_manage"
	AssignmentCanNominateOther Permission = "assignment.can_nominate_other"
	AssignmentCanNominateSelf  Permission = "assignment.can_nominate_self"

	ChatCanManage Permission = "chat.can_manage"

	ListOfSpeakersCanSee                  Permission = "list_of_speakers.can_see"
	ListOfSpeakersCanManage               Permission = "list_of_speakers.can_manage"
	ListOfSpeakersCanBeSpeaker            Permission = "list_of_speakers.can_be_speaker"
	ListOfSpeakersCanSeeModeratorNotes    Permission = "list_of_speakers.can_see_moderator_notes"
	ListOfSpeakersCanManageModeratorNotes Permission = "list_of_speakers.can_manage_moderator_notes"

	MediafileCanSee    Permission = "mediafile.can_see"
	MediafileCanManage Permission = "mediafile.can_manage"

	MeetingCanSeeFrontpage   Permission = "meeting.can_see_frontpage"
	MeetingCanSeeHistory     Permission = "meeting.can_see_history"
	MeetingCanManageSettings Permission = "meeting.can_manage_settings"

	MotionCanSee            Permission = "motion.can_see"
	MotionCanCreate         Permission = "motion.can_create"
	MotionCanSupport        Permission = "motion.can_support"
	MotionCanManageMetadata Permission = "motion.can_manage_metadata"
	MotionCanForward        Permission = "motion.can_forward"
	MotionCanManage         Permission = "motion.can_manage"

	TagCanManage Permission = "tag.can_manage"

	UserCanSee    Permission = "user.can_see"
	UserCanUpdate Permission = "user.can_update"
	UserCanManage Permission = "user.can_manage"
)

// implies maps a permission to the permissions it directly grants.
var implies = map[Permission][]Permission{
	AgendaItemCanManage:                   {AgendaItemCanSeeInternal},
	AgendaItemCanSeeInternal:              {AgendaItemCanSee},
	AgendaItemCanForward:                  {AgendaItemCanSee},
	AssignmentCanManage:                   {AssignmentCanNominateOther},
	AssignmentCanNominateOther:            {AssignmentCanSee},
	AssignmentCanNominateSelf:             {AssignmentCanSee},
	ListOfSpeakersCanManage:               {ListOfSpeakersCanSee},
	ListOfSpeakersCanBeSpeaker:            {ListOfSpeakersCanSee},
	ListOfSpeakersCanManageModeratorNotes: {ListOfSpeakersCanSeeModeratorNotes},
	ListOfSpeakersCanSeeModeratorNotes:    {ListOfSpeakersCanSee},
	MediafileCanManage:                    {MediafileCanSee},
	MeetingCanManageSettings:              {MeetingCanSeeFrontpage},
	MotionCanManage:                       {MotionCanManageMetadata, MotionCanCreate, MotionCanForward},
	MotionCanManageMetadata:               {MotionCanSee},
	MotionCanCreate:                       {MotionCanSee},
	MotionCanForward:                      {MotionCanSee},
	MotionCanSupport:                      {MotionCanSee},
	UserCanManage:                         {UserCanUpdate},
	UserCanUpdate:                         {UserCanSee},
}

// All lists every group permission, sorted.
func All() []Permission {
	set := map[Permission]bool{}
	for p, children := range implies {
		set[p] = true
		for _, c := range children {
			set[c] = true
		}
	}
	for _, p := range []Permission{ChatCanManage, TagCanManage, MeetingCanSeeHistory} {
		set[p] = true
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Valid reports whether p is a known permission token.
func Valid(p Permission) bool {
	_, ok := slices.BinarySearch(All(), p)
	return ok
}

// Closure expands a set of permissions with everything they imply.
func Closure(perms []Permission) map[Permission]bool {
	out := map[Permission]bool{}
	var add func(Permission)
	add = func(p Permission) {
		if out[p] {
			return
		}
		out[p] = true
		for _, c := range implies[p] {
			add(c)
		}
	}
	for _, p := range perms {
		add(p)
	}
	return out
}

// Reduce drops permissions already implied by another member of the set, so
// groups store a minimal, sorted list.
func Reduce(perms []Permission) []Permission {
	var out []Permission
	for _, p := range perms {
		implied := false
		for _, q := range perms {
			if q != p && Closure([]Permission{q})[p] {
				implied = true
				break
			}
		}
		if !implied && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// allowedWhileLockedOut is what a locked-out meeting user keeps.
var allowedWhileLockedOut = map[Permission]bool{
	AgendaItemCanSee:           true,
	AssignmentCanSee:           true,
	ListOfSpeakersCanSee:       true,
	ListOfSpeakersCanBeSpeaker: true,
	MediafileCanSee:            true,
	MeetingCanSeeFrontpage:     true,
	MotionCanSee:               true,
	MotionCanSupport:           true,
	UserCanSee:                 true,
}

// AllowedWhileLockedOut reports whether p survives a meeting lock-out.
func AllowedWhileLockedOut(p Permission) bool {
	return allowedWhileLockedOut[p]
}

// committeeScoped permissions are granted to managers of the meeting's
// committee.
var committeeScoped = map[Permission]bool{
	UserCanManage:            true,
	UserCanUpdate:            true,
	UserCanSee:               true,
	MeetingCanManageSettings: true,
	MeetingCanSeeFrontpage:   true,
}

// OML is an organization management level.
type OML string

const (
	OMLNone                  OML = ""
	OMLCanManageUsers        OML = "can_manage_users"
	OMLCanManageOrganization OML = "can_manage_organization"
	OMLSuperadmin            OML = "superadmin"
)

// Rank orders levels; unknown values rank as none.
func (o OML) Rank() int {
	switch o {
	case OMLCanManageUsers:
		return 1
	case OMLCanManageOrganization:
		return 2
	case OMLSuperadmin:
		return 3
	}
	return 0
}

// AtLeast reports whether o meets level.
func (o OML) AtLeast(level OML) bool {
	return o.Rank() >= level.Rank()
}

// omlGrants maps meeting permissions to the organization level that also
// grants them.
var omlGrants = map[Permission]OML{
	UserCanManage: OMLCanManageUsers,
	UserCanUpdate: OMLCanManageUsers,
	UserCanSee:    OMLCanManageUsers,
}
