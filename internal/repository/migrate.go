package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-ledger-api/internal/models"
)

// Migrate creates the assessment table and both response tables with their
// secondary indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Assessment{}); err != nil {
		return fmt.Errorf("migrate assessments: %w", err)
	}

	for _, table := range []string{models.ScopedResponsesTable, models.GlobalResponsesTable} {
		if err := db.Table(table).AutoMigrate(&models.StudentResponse{}); err != nil {
			return fmt.Errorf("migrate %s: %w", table, err)
		}

		// Index names are per table because both tables share one Go model.
		for _, column := range []string{"assessment_id", "day_id", "student_id", "status", "assessment_owner"} {
			statement := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", table, column, table, column)
			if err := db.Exec(statement).Error; err != nil {
				return fmt.Errorf("index %s.%s: %w", table, column, err)
			}
		}
	}

	// The global copy is keyed by response id alone.
	statement := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_id ON %s (id)", models.GlobalResponsesTable, models.GlobalResponsesTable)
	if err := db.Exec(statement).Error; err != nil {
		return fmt.Errorf("unique index %s.id: %w", models.GlobalResponsesTable, err)
	}

	return nil
}
