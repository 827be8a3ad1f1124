package storage

import (
	"fmt"

	"beacon/internal/models"

	"go.etcd.io/bbolt"
)

func (s *BboltStorage) UpsertBooking(b models.Booking) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putBooking(tx, newDBBooking(b))
	})
}

func putBooking(tx *bbolt.Tx, dbb *DBBooking) error {
	data, err := dbb.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal booking: %w", err)
	}
	return tx.Bucket(bucketBookings).Put(dbb.Key(), data)
}

func getBooking(tx *bbolt.Tx, id string) (*DBBooking, error) {
	data := tx.Bucket(bucketBookings).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	var dbb DBBooking
	if err := dbb.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbb, nil
}

func (s *BboltStorage) GetBooking(id string) (models.Booking, error) {
	var b models.Booking
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbb, err := getBooking(tx, id)
		if err != nil {
			return err
		}
		b = dbb.toModel()
		return nil
	})
	return b, err
}

// UpdateBooking applies fn inside one transaction. Nothing is written when fn fails.
func (s *BboltStorage) UpdateBooking(id string, fn func(b *models.Booking) error) (models.Booking, error) {
	var b models.Booking
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbb, err := getBooking(tx, id)
		if err != nil {
			return err
		}
		b = dbb.toModel()
		if err := fn(&b); err != nil {
			return err
		}
		b.ID = dbb.ID
		return putBooking(tx, newDBBooking(b))
	})
	return b, err
}
