package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClosureFollowsHierarchy(t *testing.T) {
	got := Closure([]Permission{UserCanManage})
	assert.True(t, got[UserCanUpdate])
	assert.True(t, got[UserCanSee])
	assert.False(t, got[MotionCanSee])

	got = Closure([]Permission{MotionCanManage})
	for _, p := range []Permission{MotionCanCreate, MotionCanForward, MotionCanManageMetadata, MotionCanSee} {
		assert.True(t, got[p], p)
	}
}

func TestReduceKeepsStrongest(t *testing.T) {
	assert.Equal(t,
		[]Permission{AgendaItemCanManage, UserCanManage},
		Reduce([]Permission{UserCanSee, AgendaItemCanSee, UserCanManage, AgendaItemCanManage, UserCanManage}))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(ChatCanManage))
	assert.True(t, Valid(MeetingCanSeeHistory))
	assert.False(t, Valid("motion.can_fly"))
}

func TestOMLOrder(t *testing.T) {
	assert.True(t, OMLSuperadmin.AtLeast(OMLCanManageOrganization))
	assert.True(t, OMLCanManageOrganization.AtLeast(OMLCanManageUsers))
	assert.False(t, OMLCanManageUsers.AtLeast(OMLCanManageOrganization))
	assert.Equal(t, 0, OML("bogus").Rank())
}
