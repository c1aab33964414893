package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/lcn-core/internal/lcn"
)

// Record is one inventory row: a module the bridge has seen on the bus.
// Serial and text fields stay at their zero values until fetched.
type Record struct {
	// Address is the module's logical address (segment 0 for local).
	Address lcn.Address

	// Serial is the module's serial number, 0 if not yet known.
	Serial uint64

	// Manufacturer is the manufacturer id from the serial response.
	Manufacturer int

	// FirmwareAge is the firmware date as 0xYYMMDD, 0 if not yet known.
	FirmwareAge int

	// HardwareType is the hardware type id from the serial response.
	HardwareType int

	// Name, Comment, and OEMText are the module's text blocks, joined
	// and trimmed.
	Name    string
	Comment string
	OEMText string

	// FirstSeen and LastSeen bracket the module's observed lifetime.
	FirstSeen time.Time
	LastSeen  time.Time
}

// Repository defines the interface for module inventory persistence.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// Get retrieves the record for a module address.
	// Returns ErrModuleNotFound if the module has never been seen.
	Get(ctx context.Context, addr lcn.Address) (*Record, error)

	// List retrieves all known modules ordered by address.
	List(ctx context.Context) ([]Record, error)

	// MarkSeen records that a module was observed at the given time,
	// creating the row on first sight.
	MarkSeen(ctx context.Context, addr lcn.Address, at time.Time) error

	// SetSerial stores the serial response fields for a module.
	SetSerial(ctx context.Context, addr lcn.Address, info lcn.SerialInfo) error

	// SetTexts stores the name, comment, and OEM text for a module.
	// Empty strings overwrite; pass the previous values to keep them.
	SetTexts(ctx context.Context, addr lcn.Address, name, comment, oemText string) error

	// Delete removes a module's record.
	// Returns ErrModuleNotFound if the module does not exist.
	Delete(ctx context.Context, addr lcn.Address) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the
// module inventory migration applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get retrieves the record for a module address.
func (r *SQLiteRepository) Get(ctx context.Context, addr lcn.Address) (*Record, error) {
	if err := checkAddress(addr); err != nil {
		return nil, err
	}

	query := `
		SELECT segment, module_id, serial, manufacturer, firmware_age,
			hardware_type, name, comment, oem_text, first_seen, last_seen
		FROM modules
		WHERE segment = ? AND module_id = ?`

	row := r.db.QueryRowContext(ctx, query, addr.Segment, addr.ID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModuleNotFound
		}
		return nil, fmt.Errorf("querying module: %w", err)
	}
	return rec, nil
}

// List retrieves all known modules ordered by address.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	query := `
		SELECT segment, module_id, serial, manufacturer, firmware_age,
			hardware_type, name, comment, oem_text, first_seen, last_seen
		FROM modules
		ORDER BY segment, module_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying modules: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning module row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating modules: %w", err)
	}
	return records, nil
}

// MarkSeen records that a module was observed at the given time.
func (r *SQLiteRepository) MarkSeen(ctx context.Context, addr lcn.Address, at time.Time) error {
	if err := checkAddress(addr); err != nil {
		return err
	}

	ts := at.UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO modules (segment, module_id, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (segment, module_id) DO UPDATE SET last_seen = excluded.last_seen`,
		addr.Segment, addr.ID, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("marking module seen: %w", err)
	}
	return nil
}

// SetSerial stores the serial response fields for a module.
func (r *SQLiteRepository) SetSerial(ctx context.Context, addr lcn.Address, info lcn.SerialInfo) error {
	if err := checkAddress(addr); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE modules
		SET serial = ?, manufacturer = ?, firmware_age = ?, hardware_type = ?
		WHERE segment = ? AND module_id = ?`,
		int64(info.Serial), info.Manufacturer, info.FirmwareAge, info.HardwareType,
		addr.Segment, addr.ID,
	)
	if err != nil {
		return fmt.Errorf("updating module serial: %w", err)
	}
	return checkAffected(result)
}

// SetTexts stores the name, comment, and OEM text for a module.
func (r *SQLiteRepository) SetTexts(ctx context.Context, addr lcn.Address, name, comment, oemText string) error {
	if err := checkAddress(addr); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE modules
		SET name = ?, comment = ?, oem_text = ?
		WHERE segment = ? AND module_id = ?`,
		name, comment, oemText,
		addr.Segment, addr.ID,
	)
	if err != nil {
		return fmt.Errorf("updating module texts: %w", err)
	}
	return checkAffected(result)
}

// Delete removes a module's record.
func (r *SQLiteRepository) Delete(ctx context.Context, addr lcn.Address) error {
	if err := checkAddress(addr); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM modules WHERE segment = ? AND module_id = ?",
		addr.Segment, addr.ID,
	)
	if err != nil {
		return fmt.Errorf("deleting module: %w", err)
	}
	return checkAffected(result)
}

// checkAddress rejects group addresses; the inventory tracks modules only.
func checkAddress(addr lcn.Address) error {
	if addr.Group || !addr.IsValid() {
		return ErrInvalidAddress
	}
	return nil
}

// checkAffected converts a zero-row update into ErrModuleNotFound.
func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrModuleNotFound
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a module row into a Record.
func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var serial, manufacturer, firmwareAge, hardwareType sql.NullInt64
	var firstSeen, lastSeen string

	err := row.Scan(
		&rec.Address.Segment,
		&rec.Address.ID,
		&serial,
		&manufacturer,
		&firmwareAge,
		&hardwareType,
		&rec.Name,
		&rec.Comment,
		&rec.OEMText,
		&firstSeen,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	if serial.Valid {
		rec.Serial = uint64(serial.Int64)
	}
	if manufacturer.Valid {
		rec.Manufacturer = int(manufacturer.Int64)
	}
	if firmwareAge.Valid {
		rec.FirmwareAge = int(firmwareAge.Int64)
	}
	if hardwareType.Valid {
		rec.HardwareType = int(hardwareType.Int64)
	}

	// Timestamps are written by us in RFC3339; parse errors leave zero times.
	rec.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen) //nolint:errcheck // Format is controlled
	rec.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)   //nolint:errcheck // Format is controlled

	return &rec, nil
}
