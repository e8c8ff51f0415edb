package forwarding

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/plenum/internal/actions/mediafile"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
)

var speakerFields = []string{"meeting_user_id", "weight", "speech_state", "note", "point_of_order",
	"point_of_order_category_id", "begin_time", "end_time", "structure_level_list_of_speakers_id"}

// copyListOfSpeakers transfers the list state and, with speakers, every
// speaker and structure level counter into the target list.
func (t *target) copyListOfSpeakers(ctx context.Context, srcID, dstID int64) error {
	if srcID == 0 || dstID == 0 {
		return nil
	}
	inv := t.f.inv
	src, err := inv.Get(ctx, ir.NewFQID("list_of_speakers", srcID),
		[]string{"closed", "moderator_notes", "speaker_ids", "structure_level_list_of_speakers_ids"})
	if err != nil {
		return err
	}
	patch := ir.IRObject{"closed": ir.IRBool(src.Bool("closed"))}
	if t.req.WithModeratorNotes {
		if v, ok := src["moderator_notes"]; ok {
			patch["moderator_notes"] = v
		}
	}
	if err := inv.Update(ctx, ir.NewFQID("list_of_speakers", dstID), patch); err != nil {
		return err
	}
	if !t.req.WithSpeakers {
		return nil
	}

	counters := map[int64]int64{}
	for _, id := range ir.SortedIDs(src.IntList("structure_level_list_of_speakers_ids")) {
		c, err := inv.Get(ctx, ir.NewFQID("structure_level_list_of_speakers", id),
			[]string{"structure_level_id", "initial_time", "remaining_time", "additional_time"})
		if err != nil {
			return err
		}
		level, err := t.structureLevel(ctx, c.IntOr("structure_level_id", 0))
		if err != nil {
			return err
		}
		data := c.Project([]string{"initial_time", "remaining_time", "additional_time"})
		data["structure_level_id"] = ir.IRInt(level)
		data["list_of_speakers_id"] = ir.IRInt(dstID)
		if counters[id], err = t.create(ctx, "structure_level_list_of_speakers", data); err != nil {
			return err
		}
	}

	for _, id := range ir.SortedIDs(src.IntList("speaker_ids")) {
		s, err := inv.Get(ctx, ir.NewFQID("speaker", id), speakerFields)
		if err != nil {
			return err
		}
		data := s.Project([]string{"weight", "speech_state", "note", "point_of_order", "begin_time", "end_time"})
		data["list_of_speakers_id"] = ir.IRInt(dstID)
		if mu, ok := s.Int("meeting_user_id"); ok {
			mapped, err := t.meetingUser(ctx, mu)
			if err != nil {
				return err
			}
			data["meeting_user_id"] = ir.IRInt(mapped)
		}
		if cat, ok := s.Int("point_of_order_category_id"); ok {
			mapped, err := t.category(ctx, cat)
			if err != nil {
				return err
			}
			data["point_of_order_category_id"] = ir.IRInt(mapped)
		}
		if c, ok := s.Int("structure_level_list_of_speakers_id"); ok && counters[c] != 0 {
			data["structure_level_list_of_speakers_id"] = ir.IRInt(counters[c])
		}
		if _, err := t.create(ctx, "speaker", data); err != nil {
			return err
		}
	}
	return nil
}

// create writes a new instance of collection in the target meeting.
func (t *target) create(ctx context.Context, collection string, data ir.IRObject) (int64, error) {
	ids, err := t.f.inv.ReserveIDs(ctx, collection, 1)
	if err != nil {
		return 0, err
	}
	data = data.Clone()
	data["meeting_id"] = ir.IRInt(t.meeting)
	return ids[0], t.f.inv.Create(ctx, ir.NewFQID(collection, ids[0]), data)
}

// match finds an instance of collection in the target meeting whose key
// field equals value.
func (t *target) match(ctx context.Context, collection, key string, value ir.IRValue) (int64, bool, error) {
	found, err := t.f.inv.Filter(ctx, collection, queryir.And(
		queryir.Eq("meeting_id", ir.IRInt(t.meeting)),
		queryir.Eq(key, value),
	), []string{"id"})
	if err != nil || len(found) == 0 {
		return 0, false, err
	}
	return slices.Min(slices.Collect(maps.Keys(found))), true, nil
}

// meetingUser maps a source membership to the same user's membership in
// the target, creating it when the user is not yet a participant.
func (t *target) meetingUser(ctx context.Context, src int64) (int64, error) {
	if id, ok := t.meetingUsers[src]; ok {
		return id, nil
	}
	mu, err := t.f.inv.Get(ctx, ir.NewFQID("meeting_user", src), []string{"user_id"})
	if err != nil {
		return 0, err
	}
	userID := mu["user_id"]
	id, ok, err := t.match(ctx, "meeting_user", "user_id", userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		res, err := t.f.inv.Execute(ctx, "meeting_user.create", []ir.IRObject{{
			"user_id":    userID,
			"meeting_id": ir.IRInt(t.meeting),
		}})
		if err != nil {
			return 0, err
		}
		id = res[0].IntOr("id", 0)
	}
	t.meetingUsers[src] = id
	return id, nil
}

func (t *target) structureLevel(ctx context.Context, src int64) (int64, error) {
	return t.matchOrCreate(ctx, t.structureLevels, "structure_level", src, "name", []string{"name", "color", "default_time"})
}

func (t *target) category(ctx context.Context, src int64) (int64, error) {
	return t.matchOrCreate(ctx, t.categories, "point_of_order_category", src, "text", []string{"text", "rank"})
}

func (t *target) group(ctx context.Context, src int64) (int64, error) {
	return t.matchOrCreate(ctx, t.groups, "group", src, "name", []string{"name", "weight"})
}

// matchOrCreate maps src by its key field, creating a copy of the
// transferable fields when the target has no match.
func (t *target) matchOrCreate(ctx context.Context, cache map[int64]int64, collection string, src int64, key string, transfer []string) (int64, error) {
	if id, ok := cache[src]; ok {
		return id, nil
	}
	s, err := t.f.inv.Get(ctx, ir.NewFQID(collection, src), transfer)
	if err != nil {
		return 0, err
	}
	id, ok, err := t.match(ctx, collection, key, s[key])
	if err != nil {
		return 0, err
	}
	if !ok {
		if id, err = t.create(ctx, collection, s.Project(transfer)); err != nil {
			return 0, err
		}
	}
	cache[src] = id
	return id, nil
}

// attachments maps topic attachments into the target meeting.
func (t *target) attachments(ctx context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ir.SortedIDs(ids) {
		f, err := t.f.inv.Get(ctx, ir.NewFQID("mediafile", id), []string{"owner_id"})
		if err != nil {
			return nil, err
		}
		owner, err := ir.ParseFQID(f.StringOr("owner_id", ""))
		if err != nil {
			return nil, err
		}
		if owner.Collection() == "organization" {
			out = append(out, id)
			continue
		}
		mapped, err := t.duplicate(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, mapped)
	}
	return out, nil
}

var mediafileFields = []string{"title", "is_directory", "filename", "mimetype", "filesize", "create_timestamp", "parent_id", "access_group_ids"}

// duplicate copies a meeting mediafile and its directory chain into the
// target meeting. Blobs are copied in the media service.
func (t *target) duplicate(ctx context.Context, src int64) (int64, error) {
	if id, ok := t.mediafiles[src]; ok {
		return id, nil
	}
	inv := t.f.inv
	f, err := inv.Get(ctx, ir.NewFQID("mediafile", src), mediafileFields)
	if err != nil {
		return 0, err
	}
	data := f.Project([]string{"title", "is_directory", "filename", "mimetype", "filesize", "create_timestamp"})
	data["owner_id"] = ir.IRString(ir.NewFQID("meeting", t.meeting))
	if parent, ok := f.Int("parent_id"); ok {
		mapped, err := t.duplicate(ctx, parent)
		if err != nil {
			return 0, err
		}
		data["parent_id"] = ir.IRInt(mapped)
	}
	var groups []int64
	for _, g := range ir.SortedIDs(f.IntList("access_group_ids")) {
		mapped, err := t.group(ctx, g)
		if err != nil {
			return 0, err
		}
		groups = append(groups, mapped)
	}
	if len(groups) > 0 {
		data["access_group_ids"] = ir.Ints(groups...)
	}

	ids, err := inv.ReserveIDs(ctx, "mediafile", 1)
	if err != nil {
		return 0, err
	}
	id := ids[0]
	t.mediafiles[src] = id
	if err := inv.Create(ctx, ir.NewFQID("mediafile", id), data); err != nil {
		return 0, err
	}
	if err := mediafile.Hierarchy.Refresh(ctx, inv, id); err != nil {
		return 0, err
	}
	if !f.Bool("is_directory") && t.f.media != nil {
		if err := t.f.media.Duplicate(ctx, src, id); err != nil {
			return 0, err
		}
		mediafile.DiscardOnRollback(inv, t.f.media, id)
	}
	return id, nil
}

