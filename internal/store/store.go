package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Store keeps the JSON run record of one workspace.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates a Store writing into dir (the workspace history directory).
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory the record files live in.
func (s *Store) Dir() string {
	return s.dir
}

// AddSession appends a session record.
func (s *Store) AddSession(r SessionRecord) error {
	return s.appendRecord("sessions.json", r)
}

// AddReservation appends a reservation record.
func (s *Store) AddReservation(r ReservationRecord) error {
	return s.appendRecord("reservations.json", r)
}

// Sessions returns all session records.
func (s *Store) Sessions() ([]SessionRecord, error) {
	var records []SessionRecord
	err := s.loadRecords("sessions.json", &records)
	return records, err
}

// Reservations returns all reservation records.
func (s *Store) Reservations() ([]ReservationRecord, error) {
	var records []ReservationRecord
	err := s.loadRecords("reservations.json", &records)
	return records, err
}

func (s *Store) appendRecord(filename string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(s.dir, filename)

	// Read existing records
	var records []json.RawMessage
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &records); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	records = append(records, raw)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) loadRecords(filename string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, dest)
}
