package model

// Participant is one entry in the draw pool. Group is required and partitions
// participants into disjoint pools; a participant only competes for prizes of
// the same group.
type Participant struct {
	RowID      uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	PID        string `gorm:"column:pid;uniqueIndex;not null" json:"id"`
	Name       string `gorm:"not null" json:"name"`
	EmployeeID string `json:"employee_id,omitempty"`
	Department string `json:"department,omitempty"`
	Group      string `gorm:"index;not null" json:"group"`
}

func (Participant) TableName() string { return "participants" }

// Prize is a winner-slot budget for one group. Deleting is a soft delete so
// historical winner records stay queryable by prize id.
type Prize struct {
	RowID     uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	PID       string `gorm:"column:pid;uniqueIndex;not null" json:"id"`
	Name      string `gorm:"not null" json:"name"`
	Level     int    `json:"level"`
	Quantity  int    `json:"quantity"`
	Group     string `gorm:"index;not null" json:"group"`
	IsDeleted bool   `gorm:"index" json:"is_deleted"`
}

func (Prize) TableName() string { return "prizes" }

// WinnerRecord is an immutable row of lottery history, except for Revealed
// which flips false -> true exactly once. RecordID makes insertion
// idempotent. Name/department/prize name are snapshots so history survives
// participant or prize deletion. PrizeID may be empty on rows imported from
// versions that only stored the prize name.
type WinnerRecord struct {
	RowID         uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	RecordID      string `gorm:"uniqueIndex;not null" json:"record_id"`
	ParticipantID string `gorm:"index;not null" json:"participant_id"`
	Name          string `json:"name"`
	EmployeeID    string `json:"employee_id,omitempty"`
	Department    string `json:"department,omitempty"`
	Group         string `json:"group"`
	PrizeID       string `gorm:"index" json:"prize_id"`
	PrizeName     string `json:"prize_name"`
	Color         string `json:"color"`
	Timestamp     int64  `gorm:"index" json:"timestamp"` // unix milliseconds
	SessionID     string `gorm:"index" json:"session_id"`
	Revealed      bool   `json:"revealed"`
}

func (WinnerRecord) TableName() string { return "winner_records" }

// Settings is the persisted policy row. Exactly one row exists.
type Settings struct {
	RowID         uint `gorm:"primaryKey" json:"-"`
	SkipWinners   bool `json:"skip_winners"`
	SkipAnimation bool `json:"skip_animation"`
}

func (Settings) TableName() string { return "settings" }
