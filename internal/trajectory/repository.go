package trajectory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

var ErrTrajectoryNotFound = errors.New("trajectory not found")

// TrajectoryRecord is a named, stored trajectory
type TrajectoryRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:128;not null"`
	Channels  int    `gorm:"not null"`
	Skipped   int
	CreatedAt time.Time
	Points    []PointRecord `gorm:"foreignKey:TrajectoryID;constraint:OnDelete:CASCADE"`
}

func (TrajectoryRecord) TableName() string { return "trajectories" }

// PointRecord stores one sample; angles are kept as the same fixed-precision
// decimal text used on the wire so the table needs no array type
type PointRecord struct {
	ID           uint    `gorm:"primaryKey"`
	TrajectoryID uint    `gorm:"index:idx_point_order,priority:1;not null"`
	Seq          int     `gorm:"index:idx_point_order,priority:2;not null"`
	Timestamp    float64 `gorm:"not null"`
	Angles       string  `gorm:"type:text;not null"`
}

func (PointRecord) TableName() string { return "trajectory_points" }

// Repository persists trajectories so playback can run from a stored recording
type Repository interface {
	Save(ctx context.Context, name string, seq *Sequence) error
	Load(ctx context.Context, name string) (*Sequence, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// AutoMigrate creates the trajectory tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&TrajectoryRecord{}, &PointRecord{})
}

// Save replaces any trajectory stored under name
func (r *repository) Save(ctx context.Context, name string, seq *Sequence) error {
	if seq == nil || seq.Len() == 0 {
		return ErrNoValidRows
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", name).Delete(&TrajectoryRecord{}).Error; err != nil {
			return fmt.Errorf("failed to replace trajectory %q: %w", name, err)
		}
		record := &TrajectoryRecord{Name: name, Channels: seq.Channels, Skipped: seq.Skipped}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create trajectory %q: %w", name, err)
		}
		points := make([]PointRecord, len(seq.Points))
		for i, p := range seq.Points {
			points[i] = PointRecord{
				TrajectoryID: record.ID,
				Seq:          i,
				Timestamp:    p.Timestamp,
				Angles:       EncodeAngles(p.Angles),
			}
		}
		return tx.CreateInBatches(points, 500).Error
	})
}

func (r *repository) Load(ctx context.Context, name string) (*Sequence, error) {
	var record TrajectoryRecord
	err := r.db.WithContext(ctx).
		Preload("Points", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("name = ?", name).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTrajectoryNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	seq := &Sequence{Channels: record.Channels, Skipped: record.Skipped}
	for _, pr := range record.Points {
		angles, err := DecodeAngles(pr.Angles, record.Channels)
		if err != nil {
			seq.Skipped++
			continue
		}
		seq.Points = append(seq.Points, Point{Timestamp: pr.Timestamp, Angles: angles})
	}
	if seq.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoValidRows)
	}
	return seq, nil
}

func (r *repository) List(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&TrajectoryRecord{}).
		Order("name ASC").
		Pluck("name", &names).Error
	return names, err
}

func (r *repository) Delete(ctx context.Context, name string) error {
	res := r.db.WithContext(ctx).Where("name = ?", name).Delete(&TrajectoryRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTrajectoryNotFound, name)
	}
	return nil
}

// EncodeAngles joins angles with single spaces using wire precision
func EncodeAngles(angles []float32) string {
	parts := make([]string, len(angles))
	for i, a := range angles {
		parts[i] = strconv.FormatFloat(float64(a), 'f', 6, 32)
	}
	return strings.Join(parts, " ")
}

// DecodeAngles is the inverse of EncodeAngles and checks the channel count
func DecodeAngles(s string, channels int) ([]float32, error) {
	fields := strings.Fields(s)
	if len(fields) != channels {
		return nil, fmt.Errorf("expected %d angles, got %d", channels, len(fields))
	}
	out := make([]float32, channels)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}
