package handler

import (
	"context"
	"fmt"

	"github.com/dukerupert/notez/internal/model"
	"github.com/dukerupert/notez/internal/store"
	"github.com/dukerupert/notez/internal/websocket"
)

// refChecker validates the group and tag references carried by a note or
// to-do list before anything is written.
type refChecker struct {
	groups *store.GroupStore
	tags   *store.TagStore
}

// check accepts a group only when the caller owns it. Any existing tag may be
// referenced, global or not.
func (c refChecker) check(ctx context.Context, userID int64, groupID *int64, tagIDs []int64) error {
	v := &model.ValidationError{}
	if groupID != nil {
		g, err := c.groups.GetByID(ctx, *groupID)
		if err != nil {
			return err
		}
		if g == nil || g.UserID != userID {
			v.Add("group_id", "Not a valid choice.")
		}
	}

	missing, err := c.tags.MissingIDs(ctx, tagIDs)
	if err != nil {
		return err
	}
	for _, id := range missing {
		v.Add("tag_ids", fmt.Sprintf("Tag %d does not exist.", id))
	}
	return v.Err()
}

// tagExists returns model.ErrNotFound for an unknown tag id.
func (c refChecker) tagExists(ctx context.Context, tagID int64) error {
	t, err := c.tags.GetByID(ctx, tagID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("tag %d: %w", tagID, model.ErrNotFound)
	}
	return nil
}

// notifier publishes change messages to the owner's websocket clients.
type notifier struct {
	hub *websocket.Hub
}

func (n notifier) send(userID int64, entity, action string, id int64, extra map[string]any) {
	if n.hub != nil {
		n.hub.Send(userID, websocket.NewMessage(entity, action, id, extra))
	}
}

type tagLinkFunc func(ctx context.Context, ownerID, tagID int64) error
