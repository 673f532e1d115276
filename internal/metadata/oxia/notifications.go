package oxia

import (
	"context"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/shardorch/shardorch/internal/metadata"
)

// notificationStream adapts an Oxia subscription to metadata.NotificationStream.
// Oxia notifications carry no value; consumers re-read the key.
type notificationStream struct {
	notifications oxiaclient.Notifications
	ctx           context.Context
}

func (s *notificationStream) Next(ctx context.Context) (metadata.Notification, error) {
	select {
	case <-ctx.Done():
		return metadata.Notification{}, ctx.Err()
	case <-s.ctx.Done():
		return metadata.Notification{}, s.ctx.Err()
	case n, ok := <-s.notifications.Ch():
		if !ok {
			return metadata.Notification{}, metadata.ErrStoreClosed
		}
		return convertNotification(n), nil
	}
}

func (s *notificationStream) Close() error {
	return s.notifications.Close()
}

func convertNotification(n *oxiaclient.Notification) metadata.Notification {
	result := metadata.Notification{Key: n.Key}

	switch n.Type {
	case oxiaclient.KeyDeleted, oxiaclient.KeyRangeRangeDeleted:
		result.Deleted = true
	default:
		result.Version = oxiaToMetadataVersion(n.VersionId)
	}
	return result
}
