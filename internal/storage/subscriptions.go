package storage

import (
	"fmt"

	"beacon/internal/models"

	"go.etcd.io/bbolt"
)

// UpsertSubscription stores a push subscription keyed by user and endpoint.
func (s *BboltStorage) UpsertSubscription(sub models.Subscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketSubscriptions).CreateBucketIfNotExists([]byte(sub.UserID))
		if err != nil {
			return fmt.Errorf("failed to create subscription bucket: %w", err)
		}
		dbSub := &DBSubscription{
			UserID:    sub.UserID,
			Endpoint:  sub.Endpoint,
			P256dh:    sub.Keys.P256dh,
			Auth:      sub.Keys.Auth,
			CreatedAt: sub.CreatedAt,
			IsActive:  sub.IsActive,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) ListSubscriptions(userID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketSubscriptions).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbSub DBSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, dbSub.toModel())
			return nil
		})
	})
	return subs, err
}

// ListAllSubscriptions returns subscriptions of every user.
func (s *BboltStorage) ListAllSubscriptions() ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketSubscriptions)
		return root.ForEach(func(k, v []byte) error {
			userBucket := root.Bucket(k)
			if userBucket == nil {
				return nil
			}
			return userBucket.ForEach(func(_, v []byte) error {
				var dbSub DBSubscription
				if err := dbSub.UnmarshalBinary(v); err != nil {
					return err
				}
				subs = append(subs, dbSub.toModel())
				return nil
			})
		})
	})
	return subs, err
}

// DeactivateSubscription flips isActive to false. The record is kept.
func (s *BboltStorage) DeactivateSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketSubscriptions).Bucket([]byte(userID))
		if userBucket == nil {
			return fmt.Errorf("subscription: %w", models.ErrNotFound)
		}
		data := userBucket.Get([]byte(endpoint))
		if data == nil {
			return fmt.Errorf("subscription: %w", models.ErrNotFound)
		}
		var dbSub DBSubscription
		if err := dbSub.UnmarshalBinary(data); err != nil {
			return err
		}
		if !dbSub.IsActive {
			return nil
		}
		dbSub.IsActive = false
		newData, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbSub.Key(), newData)
	})
}
