package store

import (
	"database/sql"

	"github.com/tripstack/credstore/pkg/credential"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInto(sc rowScanner, meta *credential.Metadata, payload *[]byte) error {
	var (
		parentID      sql.NullString
		provider      string
		status        string
		lastRotatedAt sql.NullTime
		expiresAt     sql.NullTime
		createdBy     sql.NullString
		updatedBy     sql.NullString
	)

	dest := []interface{}{
		&meta.ID, &parentID, &provider, &meta.Name, &meta.Version, &meta.Active, &status,
		&lastRotatedAt, &expiresAt, &meta.CreatedAt, &meta.UpdatedAt, &createdBy, &updatedBy,
	}
	if payload != nil {
		dest = append(dest, payload)
	}
	if err := sc.Scan(dest...); err != nil {
		return err
	}

	meta.Provider = credential.Provider(provider)
	meta.Status = credential.Status(status)
	if parentID.Valid {
		meta.ParentID = &parentID.String
	}
	if lastRotatedAt.Valid {
		t := lastRotatedAt.Time
		meta.LastRotatedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		meta.ExpiresAt = &t
	}
	if createdBy.Valid {
		meta.CreatedBy = &createdBy.String
	}
	if updatedBy.Valid {
		meta.UpdatedBy = &updatedBy.String
	}
	return nil
}

func scanOne(row *sql.Row) (credential.Metadata, error) {
	var meta credential.Metadata
	if err := scanInto(row, &meta, nil); err != nil {
		return credential.Metadata{}, err
	}
	return meta, nil
}

func scanOneWithPayload(row *sql.Row) (credential.Metadata, []byte, error) {
	var meta credential.Metadata
	var payload []byte
	if err := scanInto(row, &meta, &payload); err != nil {
		return credential.Metadata{}, nil, err
	}
	return meta, payload, nil
}

func scanAll(rows *sql.Rows) ([]credential.Metadata, error) {
	var out []credential.Metadata
	for rows.Next() {
		var meta credential.Metadata
		if err := scanInto(rows, &meta, nil); err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
