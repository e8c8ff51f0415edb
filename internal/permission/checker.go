package permission

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/plenum/internal/datastore"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
)

// Reader is the part of the datastore facade the checker needs.
type Reader interface {
	Get(ctx context.Context, fqid ir.FQID, fields []string, opts ...datastore.ReadOption) (ir.IRObject, error)
	GetMany(ctx context.Context, collection string, ids []int64, fields []string, opts ...datastore.ReadOption) (map[int64]ir.IRObject, error)
}

// Checker evaluates permissions for one user against the request's view of
// the data. Scope lookups never lock.
type Checker struct {
	r      Reader
	userID int64
}

// New returns a checker for userID. User id 0 is anonymous and holds nothing.
func New(r Reader, userID int64) *Checker {
	return &Checker{r: r, userID: userID}
}

// UserID returns the acting user.
func (c *Checker) UserID() int64 { return c.userID }

type userInfo struct {
	oml            OML
	committeeIDs   []int64
	meetingUserIDs []int64
}

func (c *Checker) user(ctx context.Context) (userInfo, error) {
	if c.userID == 0 {
		return userInfo{}, nil
	}
	u, err := c.r.Get(ctx, ir.NewFQID("user", c.userID),
		[]string{"organization_management_level", "committee_management_ids", "meeting_user_ids", "is_active"},
		datastore.WithoutLock())
	if errs.IsNotFound(err) {
		return userInfo{}, nil
	}
	if err != nil {
		return userInfo{}, err
	}
	if active, ok := u["is_active"].(ir.IRBool); ok && !bool(active) {
		return userInfo{}, nil
	}
	return userInfo{
		oml:            OML(u.StringOr("organization_management_level", "")),
		committeeIDs:   u.IntList("committee_management_ids"),
		meetingUserIDs: u.IntList("meeting_user_ids"),
	}, nil
}

// OML returns the user's organization management level.
func (c *Checker) OML(ctx context.Context) (OML, error) {
	u, err := c.user(ctx)
	return u.oml, err
}

// HasOML reports whether the user's level meets level.
func (c *Checker) HasOML(ctx context.Context, level OML) (bool, error) {
	u, err := c.user(ctx)
	if err != nil {
		return false, err
	}
	return u.oml != OMLNone && u.oml.AtLeast(level), nil
}

// CheckOML fails with MissingPermission unless the level is met.
func (c *Checker) CheckOML(ctx context.Context, level OML) error {
	ok, err := c.HasOML(ctx, level)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.KindMissingPermission, "Missing OrganizationManagementLevel: %s", level).
			With("permission", string(level))
	}
	return nil
}

// ManagesCommittee reports whether the user manages committeeID.
func (c *Checker) ManagesCommittee(ctx context.Context, committeeID int64) (bool, error) {
	u, err := c.user(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(u.committeeIDs, committeeID), nil
}

// MeetingUser returns the user's membership in a meeting, if any.
func (c *Checker) MeetingUser(ctx context.Context, meetingID int64) (ir.IRObject, bool, error) {
	u, err := c.user(ctx)
	if err != nil || len(u.meetingUserIDs) == 0 {
		return nil, false, err
	}
	mus, err := c.r.GetMany(ctx, "meeting_user", u.meetingUserIDs, nil, datastore.WithoutLock())
	if err != nil {
		return nil, false, err
	}
	for _, id := range ir.SortedIDs(u.meetingUserIDs) {
		if mu, ok := mus[id]; ok && mu.IntOr("meeting_id", 0) == meetingID {
			return mu, true, nil
		}
	}
	return nil, false, nil
}

// IsLockedOut reports whether the user is locked out of a meeting.
func (c *Checker) IsLockedOut(ctx context.Context, meetingID int64) (bool, error) {
	mu, ok, err := c.MeetingUser(ctx, meetingID)
	if err != nil || !ok {
		return false, err
	}
	return mu.Bool("locked_out"), nil
}

// GroupPermissions returns the permissions the user's groups grant in a
// meeting, closed under implication. Membership in the admin group grants
// everything.
func (c *Checker) GroupPermissions(ctx context.Context, meetingID int64) (map[Permission]bool, error) {
	mu, ok, err := c.MeetingUser(ctx, meetingID)
	if err != nil || !ok {
		return map[Permission]bool{}, err
	}
	groupIDs := mu.IntList("group_ids")
	if len(groupIDs) == 0 {
		return map[Permission]bool{}, nil
	}
	meeting, err := c.r.Get(ctx, ir.NewFQID("meeting", meetingID), []string{"admin_group_id"}, datastore.WithoutLock())
	if err != nil {
		return nil, err
	}
	if admin, ok := meeting.Int("admin_group_id"); ok && slices.Contains(groupIDs, admin) {
		return Closure(All()), nil
	}
	groups, err := c.r.GetMany(ctx, "group", groupIDs, []string{"permissions"}, datastore.WithoutLock())
	if err != nil {
		return nil, err
	}
	var perms []Permission
	for _, g := range groups {
		for _, p := range g.StringList("permissions") {
			perms = append(perms, Permission(p))
		}
	}
	return Closure(perms), nil
}

// Has resolves perm for the user in a meeting.
func (c *Checker) Has(ctx context.Context, meetingID int64, perm Permission) (bool, error) {
	u, err := c.user(ctx)
	if err != nil {
		return false, err
	}
	if u.oml == OMLSuperadmin {
		return true, nil
	}
	locked, err := c.IsLockedOut(ctx, meetingID)
	if err != nil {
		return false, err
	}
	if !locked {
		if level, ok := omlGrants[perm]; ok && u.oml != OMLNone && u.oml.AtLeast(level) {
			return true, nil
		}
		if committeeScoped[perm] && len(u.committeeIDs) > 0 {
			meeting, err := c.r.Get(ctx, ir.NewFQID("meeting", meetingID), []string{"committee_id"}, datastore.WithoutLock())
			if err != nil {
				return false, err
			}
			if slices.Contains(u.committeeIDs, meeting.IntOr("committee_id", 0)) {
				return true, nil
			}
		}
	}
	if locked && !AllowedWhileLockedOut(perm) {
		return false, nil
	}
	granted, err := c.GroupPermissions(ctx, meetingID)
	if err != nil {
		return false, err
	}
	return granted[perm], nil
}

// Check fails with MissingPermission unless the user holds perm in meetingID.
func (c *Checker) Check(ctx context.Context, meetingID int64, perm Permission) error {
	ok, err := c.Has(ctx, meetingID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return errs.MissingPermission(string(perm))
	}
	return nil
}

// CheckAny passes if the user holds any of perms.
func (c *Checker) CheckAny(ctx context.Context, meetingID int64, perms ...Permission) error {
	for _, p := range perms {
		ok, err := c.Has(ctx, meetingID, p)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return errs.MissingPermission(fmt.Sprint(names))
}

// CheckAll requires perm in each of meetingIDs, resolved as Has does.
func (c *Checker) CheckAll(ctx context.Context, meetingIDs []int64, perm Permission) error {
	for _, id := range ir.SortedIDs(meetingIDs) {
		has, err := c.Has(ctx, id, perm)
		if err != nil {
			return err
		}
		if !has {
			return errs.MissingPermission(string(perm)).With("meeting_id", fmt.Sprint(id))
		}
	}
	return nil
}

// MeetingID resolves the meeting an instance belongs to.
func (c *Checker) MeetingID(ctx context.Context, fqid ir.FQID) (int64, error) {
	if fqid.Collection() == "meeting" {
		return fqid.ID(), nil
	}
	obj, err := c.r.Get(ctx, fqid, []string{"meeting_id", "owner_id"}, datastore.WithoutLock())
	if err != nil {
		return 0, err
	}
	if id, ok := obj.Int("meeting_id"); ok {
		return id, nil
	}
	if owner, ok := obj.String("owner_id"); ok && ir.FQID(owner).Collection() == "meeting" {
		return ir.FQID(owner).ID(), nil
	}
	return 0, errs.New(errs.KindAction, "%s does not belong to a meeting.", fqid).At(fqid, "meeting_id")
}
