// Copyright (C) 2026 Skein Systems (engineering@skein.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/skeinworks/skein/services/worktree"
)

// Key layout. Records live under their id; two secondary indices map the
// (repo, branch) pair and the worktree path back to the id. Indices are
// maintained in the same transaction as the record they point at.
const (
	recordPrefix      = "wt/record/"
	repoBranchPrefix  = "wt/idx/repobranch/"
	worktreePathIndex = "wt/idx/path/"
)

// RecordStore is the BadgerDB-backed implementation of worktree.Store.
//
// # Thread Safety
//
// All methods are safe for concurrent use; BadgerDB transactions provide
// the isolation.
type RecordStore struct {
	db *DB
}

// NewRecordStore opens the database and returns a ready store.
func NewRecordStore(cfg Config) (*RecordStore, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return &RecordStore{db: db}, nil
}

// NewRecordStoreWithDB wraps an already-open database.
func NewRecordStoreWithDB(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

func repoBranchKey(repoPath, branchName string) []byte {
	return []byte(repoBranchPrefix + hashKey(worktree.ProvisionKey(repoPath, branchName)))
}

func pathKey(path string) []byte {
	return []byte(worktreePathIndex + hashKey(path))
}

// hashKey collapses an arbitrary-length key component to a fixed-width hex
// digest so paths of any length index cleanly.
func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// Insert writes a new record and its indices in one transaction.
// Fails with worktree.ErrRecordExists if the id, the (repo, branch) pair,
// or the worktree path is already taken.
func (s *RecordStore) Insert(ctx context.Context, rec *worktree.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(rec.ID)); err == nil {
			return fmt.Errorf("%w: id %s", worktree.ErrRecordExists, rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		rbKey := repoBranchKey(rec.RepoPath, rec.BranchName)
		if _, err := txn.Get(rbKey); err == nil {
			return fmt.Errorf("%w: %s @ %s", worktree.ErrRecordExists, rec.BranchName, rec.RepoPath)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return s.writeRecord(txn, rec, nil)
	})
}

// Update rewrites an existing record, keeping the indices consistent when
// the worktree path changes. Fails with worktree.ErrRecordExists if another
// live record already owns the new worktree path.
func (s *RecordStore) Update(ctx context.Context, rec *worktree.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		prev, err := s.readRecord(txn, rec.ID)
		if err != nil {
			return err
		}
		if prev == nil {
			return fmt.Errorf("%w: %s", worktree.ErrWorktreeNotFound, rec.ID)
		}
		return s.writeRecord(txn, rec, prev)
	})
}

// UpdateStatus transitions a record's status. The error message is kept
// only for the error state; every other transition clears it.
func (s *RecordStore) UpdateStatus(ctx context.Context, id string, status worktree.Status, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := s.readRecord(txn, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%w: %s", worktree.ErrWorktreeNotFound, id)
		}

		rec.Status = status
		if status == worktree.StatusError {
			rec.ErrorMessage = errorMessage
		} else {
			rec.ErrorMessage = ""
		}
		return s.writeRecord(txn, rec, rec)
	})
}

// Touch bumps a record's LastActivityAt.
func (s *RecordStore) Touch(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := s.readRecord(txn, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%w: %s", worktree.ErrWorktreeNotFound, id)
		}

		rec.LastActivityAt = at
		return s.writeRecord(txn, rec, rec)
	})
}

// GetByID returns the record with the given id, or (nil, nil) if absent.
func (s *RecordStore) GetByID(ctx context.Context, id string) (*worktree.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *worktree.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.readRecord(txn, id)
		return err
	})
	return rec, err
}

// GetByRepoBranch returns the record for a (repo, branch) pair, or
// (nil, nil) if absent.
func (s *RecordStore) GetByRepoBranch(ctx context.Context, repoPath, branchName string) (*worktree.Record, error) {
	return s.getByIndex(ctx, repoBranchKey(repoPath, branchName))
}

// GetByPath returns the record owning a worktree path, or (nil, nil) if
// absent.
func (s *RecordStore) GetByPath(ctx context.Context, path string) (*worktree.Record, error) {
	return s.getByIndex(ctx, pathKey(path))
}

func (s *RecordStore) getByIndex(ctx context.Context, idxKey []byte) (*worktree.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *worktree.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idxKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			var innerErr error
			rec, innerErr = s.readRecord(txn, string(val))
			return innerErr
		})
	})
	return rec, err
}

// List returns all records, optionally filtered by repository path, in key
// (id) order.
func (s *RecordStore) List(ctx context.Context, repoFilter string) ([]*worktree.Record, error) {
	return s.scan(ctx, func(rec *worktree.Record) bool {
		return repoFilter == "" || rec.RepoPath == repoFilter
	})
}

// ListByStatus returns all records in any of the given states.
func (s *RecordStore) ListByStatus(ctx context.Context, statuses ...worktree.Status) ([]*worktree.Record, error) {
	want := make(map[worktree.Status]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}
	return s.scan(ctx, func(rec *worktree.Record) bool {
		_, ok := want[rec.Status]
		return ok
	})
}

func (s *RecordStore) scan(ctx context.Context, keep func(*worktree.Record) bool) ([]*worktree.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var recs []*worktree.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec worktree.Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("corrupt record at %s: %w", it.Item().Key(), err)
				}
				if keep(&rec) {
					recs = append(recs, &rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return recs, err
}

// Delete removes a record and its indices in one transaction. Deleting a
// missing record is a no-op.
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := s.readRecord(txn, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}

		if err := txn.Delete(repoBranchKey(rec.RepoPath, rec.BranchName)); err != nil {
			return err
		}
		if rec.WorktreePath != "" {
			if err := txn.Delete(pathKey(rec.WorktreePath)); err != nil {
				return err
			}
		}
		return txn.Delete(recordKey(id))
	})
}

// Close closes the underlying database.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// readRecord loads and decodes one record inside a transaction. Returns
// (nil, nil) when absent.
func (s *RecordStore) readRecord(txn *badger.Txn, id string) (*worktree.Record, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec worktree.Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", id, err)
	}
	return &rec, nil
}

// writeRecord encodes a record and maintains its indices. prev is the
// previously stored version, or nil on insert. A worktree path owned by a
// different live record fails with worktree.ErrRecordExists before anything
// is written; the owner's index is never stolen.
func (s *RecordStore) writeRecord(txn *badger.Txn, rec, prev *worktree.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ID, err)
	}

	if rec.WorktreePath != "" {
		item, err := txn.Get(pathKey(rec.WorktreePath))
		if err == nil {
			var owner string
			if verr := item.Value(func(val []byte) error {
				owner = string(val)
				return nil
			}); verr != nil {
				return verr
			}
			if owner != rec.ID {
				return fmt.Errorf("%w: worktree path %s belongs to %s",
					worktree.ErrRecordExists, rec.WorktreePath, owner)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
	}

	if prev != nil && prev.WorktreePath != "" && prev.WorktreePath != rec.WorktreePath {
		if err := txn.Delete(pathKey(prev.WorktreePath)); err != nil {
			return err
		}
	}

	if err := txn.Set(repoBranchKey(rec.RepoPath, rec.BranchName), []byte(rec.ID)); err != nil {
		return err
	}
	if rec.WorktreePath != "" {
		if err := txn.Set(pathKey(rec.WorktreePath), []byte(rec.ID)); err != nil {
			return err
		}
	}
	return txn.Set(recordKey(rec.ID), data)
}
