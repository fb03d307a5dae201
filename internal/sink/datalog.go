package sink

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relabs-tech/ahrs_computer/internal/fusion"
)

const datalogSchema = `
CREATE TABLE IF NOT EXISTS estimates (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_ns      INTEGER NOT NULL,
	seq        INTEGER NOT NULL,
	qw REAL, qx REAL, qy REAL, qz REAL,
	roll REAL, pitch REAL, yaw REAL, heading REAL,
	bias_x REAL, bias_y REAL, bias_z REAL,
	variant    TEXT NOT NULL,
	correction TEXT NOT NULL,
	dt REAL,
	gx REAL, gy REAL, gz REAL,
	ax REAL, ay REAL, az REAL,
	mx REAL, my REAL, mz REAL
)`

const datalogInsert = `INSERT INTO estimates (
	ts_ns, seq, qw, qx, qy, qz, roll, pitch, yaw, heading,
	bias_x, bias_y, bias_z, variant, correction, dt,
	gx, gy, gz, ax, ay, az, mx, my, mz
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// DefaultDatalogBatch is the number of rows committed per transaction.
const DefaultDatalogBatch = 200

// Datalog stores every estimate in a SQLite database. Rows are grouped
// into transactions of Batch rows; Close commits the remainder.
type Datalog struct {
	db    *sql.DB
	tx    *sql.Tx
	stmt  *sql.Stmt
	rows  int
	Batch int
}

// OpenDatalog opens (or creates) the database at path.
func OpenDatalog(path string) (*Datalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("datalog: sql.Open(%s): %w", path, err)
	}
	if _, err := db.Exec(datalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("datalog: create table: %w", err)
	}
	log.Printf("datalog: logging estimates to %s", path)
	return &Datalog{db: db, Batch: DefaultDatalogBatch}, nil
}

func (d *Datalog) Publish(e fusion.Estimate) error {
	if d.tx == nil {
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("datalog: begin: %w", err)
		}
		stmt, err := tx.Prepare(datalogInsert)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("datalog: prepare: %w", err)
		}
		d.tx, d.stmt = tx, stmt
	}

	s := e.Sample
	_, err := d.stmt.Exec(
		e.T.UnixNano(), int64(e.Seq),
		e.Q.W, e.Q.X, e.Q.Y, e.Q.Z,
		e.Pose.Roll, e.Pose.Pitch, e.Pose.Yaw, e.Heading,
		e.Bias.X, e.Bias.Y, e.Bias.Z,
		e.Variant.String(), e.Correction.String(), e.Dt,
		s.Gyro.X, s.Gyro.Y, s.Gyro.Z,
		s.Accel.X, s.Accel.Y, s.Accel.Z,
		s.Mag.X, s.Mag.Y, s.Mag.Z,
	)
	if err != nil {
		return fmt.Errorf("datalog: insert: %w", err)
	}

	d.rows++
	if d.rows >= d.Batch {
		return d.commit()
	}
	return nil
}

func (d *Datalog) commit() error {
	if d.tx == nil {
		return nil
	}
	d.stmt.Close()
	err := d.tx.Commit()
	d.tx, d.stmt, d.rows = nil, nil, 0
	if err != nil {
		return fmt.Errorf("datalog: commit: %w", err)
	}
	return nil
}

// Close commits pending rows and closes the database.
func (d *Datalog) Close() error {
	err := d.commit()
	if cerr := d.db.Close(); err == nil {
		err = cerr
	}
	return err
}
