package recorddb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

// The auto-increment primary key is spelled differently by each driver
func idColumn(driver string) string {
	if driver == dbh.DriverPostgres {
		return "id BIGSERIAL PRIMARY KEY"
	}
	return "id INTEGER PRIMARY KEY"
}

func Migrations(log logs.Log, driver string) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE record(
			`+idColumn(driver)+`,
			image TEXT NOT NULL,
			location TEXT NOT NULL,
			horizontal_gate BOOLEAN NOT NULL,
			legal_occupier_vehicle BOOLEAN NOT NULL,
			train BOOLEAN NOT NULL,
			truck BOOLEAN NOT NULL,
			accurate_alert BOOLEAN NOT NULL,
			accurate_class BOOLEAN NOT NULL,
			classification TEXT NOT NULL,
			processed_at BIGINT NOT NULL
		);
		CREATE UNIQUE INDEX idx_record_image ON record(image);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE INDEX idx_record_location ON record(location);
		ALTER TABLE record ADD COLUMN header_text TEXT;
	`))

	return migs
}
