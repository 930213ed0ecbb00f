package attendance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrUserRequired rejects check-ins without a user.
var ErrUserRequired = errors.New("user id required")

// Service coordinates check-ins and per-day deduplication.
type Service struct {
	acc          *Accessor
	enforceDaily bool
	logger       *zap.Logger
}

// NewService creates a service on top of an accessor. With enforceDaily set,
// a second check-in for the same user and day returns the first record.
func NewService(acc *Accessor, enforceDaily bool, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{acc: acc, enforceDaily: enforceDaily, logger: logger}
}

// CheckIn records userID as attending at the given time (now when zero).
// created is false when an existing record for that day was returned. The
// day lookup and the insert are not atomic, so concurrent check-ins for the
// same user may both insert.
func (s *Service) CheckIn(ctx context.Context, userID string, at time.Time, fields map[string]any) (rec Record, created bool, err error) {
	if userID == "" {
		return Record{}, false, ErrUserRequired
	}
	if at.IsZero() {
		at = s.acc.now()
	}

	if s.enforceDaily {
		existing, err := s.acc.FindByUserAndDay(ctx, userID, at)
		if err != nil {
			return Record{}, false, err
		}
		if existing != nil {
			s.logger.Info("duplicate check-in ignored",
				zap.String("user_id", userID),
				zap.String("existing_id", existing.ID),
			)
			return *existing, false, nil
		}
	}

	rec, err = s.acc.Insert(ctx, Record{UserID: userID, AttendanceDate: at, Fields: fields})
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}
