/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/anomalyops/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.MaintenancePeriod{},
		&models.Anomaly{},
		&models.Slot{},
		&models.AuditLog{},
	); err != nil {
		return err
	}

	if err := applyPostgresSlotOverlapGuard(database); err != nil {
		return err
	}
	if err := normalizeLegacyWindowTypes(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresSlotOverlapGuard rejects a slot whose [start, end) overlaps an
// active slot unless the new row is an accepted override.
func applyPostgresSlotOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_slot_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
DECLARE
  new_end timestamptz;
BEGIN
  IF NEW.estimated_duration_hours <= 0 THEN
    RAISE EXCEPTION 'slot duration must be positive'
      USING ERRCODE = '23514';
  END IF;

  IF NEW.status IN ('cancelled', 'completed') OR NEW.overrides_existing THEN
    RETURN NEW;
  END IF;

  new_end := NEW.scheduled_at + make_interval(secs => NEW.estimated_duration_hours * 3600);

  IF EXISTS (
    SELECT 1
    FROM slots s
    WHERE s.id <> NEW.id
      AND s.status NOT IN ('cancelled', 'completed')
      AND tstzrange(s.scheduled_at, s.scheduled_at + make_interval(secs => s.estimated_duration_hours * 3600), '[)')
          && tstzrange(NEW.scheduled_at, new_end, '[)')
  ) THEN
    RAISE EXCEPTION 'slot overlaps an existing slot at %', NEW.scheduled_at
      USING ERRCODE = '23P01';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_slot_overlap ON slots;

CREATE TRIGGER trg_prevent_slot_overlap
BEFORE INSERT OR UPDATE OF scheduled_at, estimated_duration_hours, status
ON slots
FOR EACH ROW
EXECUTE FUNCTION prevent_slot_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres slot overlap guard: %w", err)
	}

	return nil
}

// normalizeLegacyWindowTypes maps older free-form window labels onto the
// three known window types.
func normalizeLegacyWindowTypes(database *gorm.DB) error {
	if err := database.Exec("UPDATE slots SET window_type = ? WHERE LOWER(TRIM(window_type)) IN ?",
		models.WindowEmergency, []string{"urgent", "emergency_repair"}).Error; err != nil {
		return fmt.Errorf("normalize legacy emergency window type: %w", err)
	}
	if err := database.Exec("UPDATE slots SET window_type = ? WHERE window_type = '' OR window_type IS NULL",
		models.WindowPlanned).Error; err != nil {
		return fmt.Errorf("normalize empty window type: %w", err)
	}
	return nil
}
