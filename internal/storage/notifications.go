package storage

import (
	"fmt"
	"sort"

	"beacon/internal/models"

	"go.etcd.io/bbolt"
)

// PutNotification saves a notification into its owner's bucket.
func (s *BboltStorage) PutNotification(n models.Notification) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putNotification(tx, newDBNotification(n))
	})
}

func putNotification(tx *bbolt.Tx, dbn *DBNotification) error {
	if dbn.ID == "" || dbn.UserID == "" {
		return fmt.Errorf("notification missing id or owner: %w", models.ErrInvalidRequest)
	}
	userBucket, err := tx.Bucket(bucketNotifications).CreateBucketIfNotExists([]byte(dbn.UserID))
	if err != nil {
		return fmt.Errorf("failed to create notification bucket: %w", err)
	}
	data, err := dbn.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := userBucket.Put(dbn.Key(), data); err != nil {
		return err
	}
	return tx.Bucket(bucketNotificationOwners).Put(dbn.Key(), []byte(dbn.UserID))
}

func getNotification(tx *bbolt.Tx, id string) (*DBNotification, error) {
	owner := tx.Bucket(bucketNotificationOwners).Get([]byte(id))
	if owner == nil {
		return nil, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	userBucket := tx.Bucket(bucketNotifications).Bucket(owner)
	if userBucket == nil {
		return nil, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	data := userBucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	var dbn DBNotification
	if err := dbn.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbn, nil
}

func (s *BboltStorage) GetNotification(id string) (models.Notification, error) {
	var n models.Notification
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbn, err := getNotification(tx, id)
		if err != nil {
			return err
		}
		n = dbn.toModel()
		return nil
	})
	return n, err
}

// UpdateNotification applies fn to the stored notification inside one transaction.
// The notification is saved only when fn returns nil.
func (s *BboltStorage) UpdateNotification(id string, fn func(n *models.Notification) error) (models.Notification, error) {
	var n models.Notification
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbn, err := getNotification(tx, id)
		if err != nil {
			return err
		}
		n = dbn.toModel()
		if err := fn(&n); err != nil {
			return err
		}
		// Identity and ownership are immutable.
		n.ID, n.UserID = dbn.ID, dbn.UserID
		return putNotification(tx, newDBNotification(n))
	})
	return n, err
}

// UpdateUserNotifications applies fn to every notification of the user and
// saves those for which fn reported a change. It returns the number of saved entries.
func (s *BboltStorage) UpdateUserNotifications(userID string, fn func(n *models.Notification) bool) (int, error) {
	changed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		var updated []*DBNotification
		err := userBucket.ForEach(func(k, v []byte) error {
			var dbn DBNotification
			if err := dbn.UnmarshalBinary(v); err != nil {
				return err
			}
			n := dbn.toModel()
			if fn(&n) {
				updated = append(updated, newDBNotification(n))
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Writes are deferred until after ForEach, bbolt forbids mutation during iteration.
		for _, dbn := range updated {
			if err := putNotification(tx, dbn); err != nil {
				return err
			}
		}
		changed = len(updated)
		return nil
	})
	return changed, err
}

// ListNotifications returns the user's notifications newest first.
func (s *BboltStorage) ListNotifications(userID string) ([]models.Notification, error) {
	notifications := []models.Notification{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbn DBNotification
			if err := dbn.UnmarshalBinary(v); err != nil {
				return err
			}
			notifications = append(notifications, dbn.toModel())
			return nil
		})
	})
	sort.SliceStable(notifications, func(i, j int) bool {
		if notifications[i].CreatedAt == notifications[j].CreatedAt {
			return notifications[i].ID > notifications[j].ID
		}
		return notifications[i].CreatedAt > notifications[j].CreatedAt
	})
	return notifications, err
}

func (s *BboltStorage) DeleteNotification(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbn, err := getNotification(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketNotifications).Bucket([]byte(dbn.UserID)).Delete(dbn.Key()); err != nil {
			return err
		}
		return tx.Bucket(bucketNotificationOwners).Delete(dbn.Key())
	})
}
