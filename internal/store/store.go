package store

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gachastage/gacha-backend/internal/model"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrQuantityBelowWon    = errors.New("quantity cannot go below recorded winners")
	ErrDuplicateID         = errors.New("duplicate id")
	ErrMissingGroup        = errors.New("group is required")
	ErrMissingName         = errors.New("name is required")
	ErrNonPositiveQuantity = errors.New("quantity must be at least 1")
)

// Store is the one shared repository per process. All winner-record writes
// are append-only or flag-flip; historical rows are never edited.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open opens (or creates) the sqlite database at path, migrates the schema,
// seeds the settings row and backfills legacy winner records.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.AutoMigrate(
		&model.Participant{},
		&model.Prize{},
		&model.WinnerRecord{},
		&model.Settings{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.ensureSettings(); err != nil {
		return nil, err
	}
	if err := s.backfillPrizeIDs(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSettings() error {
	var n int64
	if err := s.db.Model(&model.Settings{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Skip-winners defaults on: repeat wins are opt-in.
	return s.db.Create(&model.Settings{RowID: 1, SkipWinners: true}).Error
}

// backfillPrizeIDs fills in PrizeID on legacy records where exactly one
// non-deleted prize carries that name. Ambiguous names are left alone; the
// remaining-slot math still counts them through the name fallback.
func (s *Store) backfillPrizeIDs() error {
	var legacy []model.WinnerRecord
	if err := s.db.Where("prize_id = ''").Find(&legacy).Error; err != nil {
		return err
	}
	for _, rec := range legacy {
		var matches []model.Prize
		if err := s.db.Where("name = ? AND is_deleted = ?", rec.PrizeName, false).Find(&matches).Error; err != nil {
			return err
		}
		switch len(matches) {
		case 1:
			if err := s.db.Model(&model.WinnerRecord{}).
				Where("record_id = ?", rec.RecordID).
				Update("prize_id", matches[0].PID).Error; err != nil {
				return err
			}
		case 0:
			// Prize gone entirely; nothing to backfill against.
		default:
			s.log.Warn("ambiguous prize name, leaving record on name fallback",
				zap.String("record_id", rec.RecordID),
				zap.String("prize_name", rec.PrizeName))
		}
	}
	return nil
}

// --- participants ---

func (s *Store) Participants() ([]model.Participant, error) {
	var out []model.Participant
	err := s.db.Order("row_id").Find(&out).Error
	return out, err
}

func validParticipant(p model.Participant) error {
	if p.Name == "" {
		return ErrMissingName
	}
	if p.Group == "" {
		return ErrMissingGroup
	}
	return nil
}

// ReplaceParticipants swaps the whole pool in one transaction.
func (s *Store) ReplaceParticipants(list []model.Participant) error {
	for _, p := range list {
		if err := validParticipant(p); err != nil {
			return fmt.Errorf("participant %q: %w", p.PID, err)
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.Participant{}).Error; err != nil {
			return err
		}
		for i := range list {
			list[i].RowID = 0
			if err := tx.Create(&list[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendParticipants adds entries, silently skipping ids already present.
func (s *Store) AppendParticipants(list []model.Participant) error {
	for _, p := range list {
		if err := validParticipant(p); err != nil {
			return fmt.Errorf("participant %q: %w", p.PID, err)
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for i := range list {
			list[i].RowID = 0
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "pid"}},
				DoNothing: true,
			}).Create(&list[i]).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AddParticipant(p model.Participant) error {
	if err := validParticipant(p); err != nil {
		return err
	}
	var n int64
	if err := s.db.Model(&model.Participant{}).Where("pid = ?", p.PID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("participant %q: %w", p.PID, ErrDuplicateID)
	}
	return s.db.Create(&p).Error
}

// RemoveParticipant deletes permanently. Past winner records keep their
// snapshots, so history is unaffected.
func (s *Store) RemoveParticipant(id string) error {
	res := s.db.Where("pid = ?", id).Delete(&model.Participant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ClearParticipants() error {
	return s.db.Where("1 = 1").Delete(&model.Participant{}).Error
}

// --- prizes ---

func (s *Store) Prizes(includeDeleted bool) ([]model.Prize, error) {
	var out []model.Prize
	q := s.db.Order("row_id")
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *Store) PrizeByID(id string) (model.Prize, error) {
	var p model.Prize
	err := s.db.Where("pid = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Prize{}, ErrNotFound
	}
	return p, err
}

func validPrize(p model.Prize) error {
	if p.Name == "" {
		return ErrMissingName
	}
	if p.Group == "" {
		return ErrMissingGroup
	}
	if p.Quantity < 1 {
		return ErrNonPositiveQuantity
	}
	return nil
}

func (s *Store) AddPrize(p model.Prize) error {
	if err := validPrize(p); err != nil {
		return err
	}
	var n int64
	if err := s.db.Model(&model.Prize{}).Where("pid = ?", p.PID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("prize %q: %w", p.PID, ErrDuplicateID)
	}
	return s.db.Create(&p).Error
}

func (s *Store) ReplacePrizes(list []model.Prize) error {
	for _, p := range list {
		if err := validPrize(p); err != nil {
			return fmt.Errorf("prize %q: %w", p.PID, err)
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.Prize{}).Error; err != nil {
			return err
		}
		for i := range list {
			list[i].RowID = 0
			if err := tx.Create(&list[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// PrizeUpdate carries the editable prize fields; nil means leave as is.
type PrizeUpdate struct {
	Name     *string
	Level    *int
	Quantity *int
	Group    *string
}

// UpdatePrize applies an edit. Lowering quantity below the number of winners
// already recorded for the prize is rejected.
func (s *Store) UpdatePrize(id string, upd PrizeUpdate) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var p model.Prize
		if err := tx.Where("pid = ?", id).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if upd.Quantity != nil {
			won, err := countForPrize(tx, p.PID, p.Name)
			if err != nil {
				return err
			}
			if int64(*upd.Quantity) < won {
				return fmt.Errorf("%w: %d already drawn", ErrQuantityBelowWon, won)
			}
			p.Quantity = *upd.Quantity
		}
		if upd.Name != nil {
			p.Name = *upd.Name
		}
		if upd.Level != nil {
			p.Level = *upd.Level
		}
		if upd.Group != nil {
			p.Group = *upd.Group
		}
		if err := validPrize(p); err != nil {
			return err
		}
		return tx.Save(&p).Error
	})
}

// SoftDeletePrize hides a prize from selection and display. Its winner
// records stay valid and queryable by id.
func (s *Store) SoftDeletePrize(id string) error {
	res := s.db.Model(&model.Prize{}).Where("pid = ?", id).Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ClearPrizes() error {
	return s.db.Where("1 = 1").Delete(&model.Prize{}).Error
}

// --- winner records ---

// WinnerRecords returns all records, newest first.
func (s *Store) WinnerRecords() ([]model.WinnerRecord, error) {
	var out []model.WinnerRecord
	err := s.db.Order("timestamp DESC, row_id DESC").Find(&out).Error
	return out, err
}

// SessionRecords returns one round's records in draw order.
func (s *Store) SessionRecords(sessionID string) ([]model.WinnerRecord, error) {
	var out []model.WinnerRecord
	err := s.db.Where("session_id = ?", sessionID).Order("row_id").Find(&out).Error
	return out, err
}

// AddWinnerRecords appends a batch. Rows whose record id is already present
// are skipped, so duplicate delivery of a start-draw frame is harmless.
// Returns the number of rows actually inserted.
func (s *Store) AddWinnerRecords(recs []model.WinnerRecord) (int, error) {
	inserted := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range recs {
			recs[i].RowID = 0
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "record_id"}},
				DoNothing: true,
			}).Create(&recs[i])
			if res.Error != nil {
				return res.Error
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	return inserted, err
}

// RevealRecord flips a record's revealed flag. Flipping an already revealed
// record is a no-op.
func (s *Store) RevealRecord(recordID string) error {
	res := s.db.Model(&model.WinnerRecord{}).
		Where("record_id = ?", recordID).
		Update("revealed", true)
	if res.Error != nil {
		return res.Error
	}
	var n int64
	if err := s.db.Model(&model.WinnerRecord{}).Where("record_id = ?", recordID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevealSession reveals every record of a round at once; the degrade path
// when staged reveal cannot proceed.
func (s *Store) RevealSession(sessionID string) error {
	return s.db.Model(&model.WinnerRecord{}).
		Where("session_id = ?", sessionID).
		Update("revealed", true).Error
}

func (s *Store) ClearWinnerRecords() error {
	return s.db.Where("1 = 1").Delete(&model.WinnerRecord{}).Error
}

func countForPrize(tx *gorm.DB, prizeID, prizeName string) (int64, error) {
	var n int64
	err := tx.Model(&model.WinnerRecord{}).
		Where("prize_id = ? OR (prize_id = '' AND prize_name = ?)", prizeID, prizeName).
		Count(&n).Error
	return n, err
}

// CountForPrize counts recorded winners for a prize, including legacy rows
// matched by name.
func (s *Store) CountForPrize(prizeID, prizeName string) (int64, error) {
	return countForPrize(s.db, prizeID, prizeName)
}

// --- settings ---

func (s *Store) Settings() (model.Settings, error) {
	var st model.Settings
	err := s.db.First(&st, 1).Error
	return st, err
}

func (s *Store) SetSkipWinners(v bool) error {
	return s.db.Model(&model.Settings{}).Where("row_id = ?", 1).Update("skip_winners", v).Error
}

func (s *Store) SetSkipAnimation(v bool) error {
	return s.db.Model(&model.Settings{}).Where("row_id = ?", 1).Update("skip_animation", v).Error
}
